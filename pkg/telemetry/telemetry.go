// Package telemetry wires structured logging and OpenTelemetry metrics for
// the orchestrator. Every component accepts a *slog.Logger rather than
// reaching for a package-level global, matching the logging discipline
// used throughout the persistence and queue layers.
package telemetry

import (
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger builds the process-wide slog.Logger. jsonOutput selects the
// JSON handler for production deployments; text output is easier to read
// during local development.
func NewLogger(jsonOutput bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Meters groups counters and histograms named for the job engine, the
// provider clients, the cache and synthesis; no other package in this
// module calls NewMeters or records into them. Meter is expected to come from
// a global MeterProvider configured by the process's main package; when no
// provider is registered, otel's no-op implementation is used, so
// instrumentation calls are always safe even outside of a full deployment.
type Meters struct {
	JobsClaimed      metric.Int64Counter
	JobsCompleted    metric.Int64Counter
	JobsFailed       metric.Int64Counter
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	ProviderLatency  metric.Float64Histogram
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	SynthesisTokens  metric.Int64Histogram
}

// NewMeters registers the instruments against the given meter.
func NewMeters(meter metric.Meter) (*Meters, error) {
	jobsClaimed, err := meter.Int64Counter("orchestrator.jobs.claimed")
	if err != nil {
		return nil, err
	}
	jobsCompleted, err := meter.Int64Counter("orchestrator.jobs.completed")
	if err != nil {
		return nil, err
	}
	jobsFailed, err := meter.Int64Counter("orchestrator.jobs.failed")
	if err != nil {
		return nil, err
	}
	providerRequests, err := meter.Int64Counter("orchestrator.provider.requests")
	if err != nil {
		return nil, err
	}
	providerErrors, err := meter.Int64Counter("orchestrator.provider.errors")
	if err != nil {
		return nil, err
	}
	providerLatency, err := meter.Float64Histogram("orchestrator.provider.latency_ms")
	if err != nil {
		return nil, err
	}
	cacheHits, err := meter.Int64Counter("orchestrator.cache.hits")
	if err != nil {
		return nil, err
	}
	cacheMisses, err := meter.Int64Counter("orchestrator.cache.misses")
	if err != nil {
		return nil, err
	}
	synthesisTokens, err := meter.Int64Histogram("orchestrator.synthesis.tokens")
	if err != nil {
		return nil, err
	}

	return &Meters{
		JobsClaimed:      jobsClaimed,
		JobsCompleted:    jobsCompleted,
		JobsFailed:       jobsFailed,
		ProviderRequests: providerRequests,
		ProviderErrors:   providerErrors,
		ProviderLatency:  providerLatency,
		CacheHits:        cacheHits,
		CacheMisses:      cacheMisses,
		SynthesisTokens:  synthesisTokens,
	}, nil
}

// Tracer is the shared tracer name components pull spans from.
const Tracer = "github.com/corvid-labs/orchestrator"

// NoopTracer is used when no TracerProvider has been configured, so
// instrumented code paths never need a nil check.
var NoopTracer trace.Tracer = trace.NewNoopTracerProvider().Tracer(Tracer)
