package sendgrid

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pure-golang/sendgrid/mail/sendgrid"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// recordError marks span as failed.
func recordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
