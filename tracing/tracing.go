package tracing

import (
	"io"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Provider interface {
	trace.TracerProvider
	io.Closer
}

// ProviderBuilder wrap all realization details of constructor (ex. config struct)
type ProviderBuilder func() (Provider, error)

// Init installs the built provider globally together with W3C trace context
// and baggage propagation. On failure a NoopProvider is returned with the error.
func Init(creator ProviderBuilder) (Provider, error) {
	provider, err := creator()
	if err != nil || provider == nil {
		if err == nil {
			err = errors.New("builder returned nil provider")
		}
		return NoopProvider{}, errors.Wrap(err, "failed to load tracing provider")
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider, nil
}

// NoopProvider is used when tracing is disabled or failed to start.
type NoopProvider struct{ noop.TracerProvider }

func (NoopProvider) Close() error { return nil }
