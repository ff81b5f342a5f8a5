package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/sendgrid/logger"
)

const (
	instrumentationName = "github.com/pure-golang/sendgrid/httpserver/middleware"

	HeaderRequestID = "X-Request-Id"
	HeaderTraceID   = "X-Trace-Id"
)

var (
	meter = otel.GetMeterProvider().Meter(instrumentationName)
	// nolint:errcheck // Sync OpenTelemetry instruments never return errors
	requestsCount, _      = meter.Int64Counter("http.request_count")
	requestTimeHist, _    = meter.Int64Histogram("http.request_time", metric.WithUnit("ms"))
	requestBodyLenHist, _ = meter.Int64Histogram("http.request_body_len", metric.WithUnit("By"))
)

// Monitoring traces incoming http requests using open telemetry tracer and
// attaches a request scoped logger to the request context.
// Bodies and credential headers are never recorded: relayed forms carry mail content.
func Monitoring(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqTime := time.Now()

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(instrumentationName).Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		log := logger.FromContext(ctx).With(
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestID),
		)
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID := sc.TraceID().String()
			log = log.With("trace_id", traceID)
			w.Header().Set(HeaderTraceID, traceID)
		}
		w.Header().Set(HeaderRequestID, requestID)

		attrs := semconv.NetAttributesFromHTTPRequest("tcp", r)
		attrs = append(attrs, semconv.HTTPServerAttributesFromHTTPRequest("sendgrid-relay", r.URL.Path, r)...)
		attrs = append(attrs,
			attribute.String("http.request.header.User-Agent", r.UserAgent()),
			attribute.String("http.request_id", requestID),
		)

		srw := newStatefulRespWriter(w)
		next.ServeHTTP(srw, r.WithContext(logger.NewContext(ctx, log)))

		status := srw.statusCode()
		attrs = append(attrs, semconv.HTTPAttributesFromHTTPStatusCode(status)...)
		span.SetAttributes(attrs...)

		metricLabels := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		}
		requestsCount.Add(ctx, 1, metric.WithAttributes(append(metricLabels,
			attribute.Int("http.response.code", status))...))
		requestTimeHist.Record(ctx, time.Since(reqTime).Milliseconds(), metric.WithAttributes(metricLabels...))
		if r.ContentLength > 0 {
			requestBodyLenHist.Record(ctx, r.ContentLength, metric.WithAttributes(metricLabels...))
		}

		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
			return
		}
		span.SetStatus(codes.Ok, "")
	})
}

// statefulRespWriter keeps the sent status after WriteHeader/Write calls.
type statefulRespWriter struct {
	http.ResponseWriter
	status int
}

func newStatefulRespWriter(w http.ResponseWriter) *statefulRespWriter {
	return &statefulRespWriter{ResponseWriter: w}
}

func (w *statefulRespWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statefulRespWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statefulRespWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statefulRespWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
