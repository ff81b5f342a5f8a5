package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	meter = otel.GetMeterProvider().Meter(instrumentationName)
	// nolint:errcheck // Sync OpenTelemetry instruments never return errors
	requestsCount, _   = meter.Int64Counter("http.client.request_count")
	requestTimeHist, _ = meter.Int64Histogram("http.client.request_time", metric.WithUnit("ms"))
)

const instrumentationName = "github.com/pure-golang/sendgrid/httpclient/middleware"

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Monitoring traces outgoing http requests using open telemetry tracer,
// propagates trace context to the remote side and records request metrics.
// Request bodies are never recorded: they carry API credentials.
func Monitoring(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		reqTime := time.Now()

		ctx, span := otel.Tracer(instrumentationName).Start(r.Context(), r.Method+" "+r.URL.Host+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		r = r.Clone(ctx)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))

		span.SetAttributes(semconv.HTTPClientAttributesFromHTTPRequest(r)...)
		metricLabels := []attribute.KeyValue{
			attribute.String("http.host", r.URL.Host),
			attribute.String("http.path", r.URL.Path),
		}

		resp, err := next.RoundTrip(r)

		requestTimeHist.Record(ctx, time.Since(reqTime).Milliseconds(), metric.WithAttributes(metricLabels...))

		if err != nil {
			requestsCount.Add(ctx, 1, metric.WithAttributes(append(metricLabels,
				attribute.Int("http.response.code", 0))...))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		requestsCount.Add(ctx, 1, metric.WithAttributes(append(metricLabels,
			attribute.Int("http.response.code", resp.StatusCode))...))
		span.SetAttributes(semconv.HTTPAttributesFromHTTPStatusCode(resp.StatusCode)...)
		span.SetStatus(semconv.SpanStatusFromHTTPStatusCodeAndSpanKind(resp.StatusCode, trace.SpanKindClient))

		return resp, nil
	})
}
