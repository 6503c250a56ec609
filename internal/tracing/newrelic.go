package tracing

import (
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/resource/config"
)

// Tracer wraps the New Relic application. A disabled tracer hands out nil
// transactions, which the agent treats as no-ops.
type Tracer struct {
	app     *newrelic.Application
	enabled bool
}

// NewTracer creates a new tracer
func NewTracer(cfg config.TracingConfig) (*Tracer, error) {
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return &Tracer{enabled: false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
		newrelic.ConfigAppLogForwardingEnabled(cfg.LogEnabled),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}

	return &Tracer{app: app, enabled: true}, nil
}

// Application returns the agent application, nil when tracing is disabled.
func (t *Tracer) Application() *newrelic.Application {
	if t == nil || !t.enabled {
		return nil
	}
	return t.app
}

// StartTransaction starts a background transaction such as a worker run.
func (t *Tracer) StartTransaction(name string) *newrelic.Transaction {
	if app := t.Application(); app != nil {
		return app.StartTransaction(name)
	}
	return nil
}

// Close flushes pending data.
func (t *Tracer) Close() {
	if app := t.Application(); app != nil {
		app.Shutdown(10 * time.Second)
	}
}
