package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/provider"
)

// Dispatcher resolves a model id to its provider adapter and guards every
// call through a per-model circuit breaker and rate limiter, so a single
// overloaded or failing model degrades in isolation rather than blocking
// the rest of an ensemble (spec §4.3/§4.4, §5).
type Dispatcher struct {
	router    *Router
	clients   map[string]provider.Client // provider name -> adapter
	providers config.ProvidersConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[provider.Response]
	limiters map[string]*rate.Limiter
}

// NewDispatcher wires a Router with its concrete provider adapters. clients
// is keyed by provider name ("anthropic", "openai", "bedrock") and may omit
// providers that are disabled in config.
func NewDispatcher(r *Router, clients map[string]provider.Client, providers config.ProvidersConfig) *Dispatcher {
	return &Dispatcher{
		router:    r,
		clients:   clients,
		providers: providers,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[provider.Response]),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Complete resolves model, applies its rate limiter and circuit breaker,
// and issues a ChatCompletion against the owning provider adapter.
func (d *Dispatcher) Complete(ctx context.Context, model Model, req provider.Request) (provider.Response, error) {
	client, ok := d.clients[model.Provider]
	if !ok {
		return provider.Response{}, fmt.Errorf("router: no adapter configured for provider %q", model.Provider)
	}
	if err := d.limiterFor(model).Wait(ctx); err != nil {
		return provider.Response{}, err
	}
	req.Model = model.ID
	breaker := d.breakerFor(model)
	return breaker.Execute(func() (provider.Response, error) {
		return client.ChatCompletion(ctx, req)
	})
}

// Stream resolves model and issues a streaming ChatCompletion against the
// owning provider adapter, gated by the same per-model rate limiter as
// Complete. It does not run through the circuit breaker: gobreaker's
// generic breaker is typed on the call's return value, and a streaming
// call's failures surface incrementally from Stream.Recv rather than from
// the initial call, so a breaker here would only protect the connection
// setup, not the stream body. A failing stream is returned to the caller
// as-is; no other model is tried.
func (d *Dispatcher) Stream(ctx context.Context, model Model, req provider.Request) (provider.Stream, error) {
	client, ok := d.clients[model.Provider]
	if !ok {
		return nil, fmt.Errorf("router: no adapter configured for provider %q", model.Provider)
	}
	if err := d.limiterFor(model).Wait(ctx); err != nil {
		return nil, err
	}
	req.Model = model.ID
	return client.ChatCompletionStream(ctx, req)
}

func (d *Dispatcher) limiterFor(model Model) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[model.ID]; ok {
		return l
	}
	cfg := d.providerConfig(model.Provider)
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	d.limiters[model.ID] = l
	return l
}

func (d *Dispatcher) breakerFor(model Model) *gobreaker.CircuitBreaker[provider.Response] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.breakers[model.ID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[provider.Response](gobreaker.Settings{
		Name:        model.ID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	d.breakers[model.ID] = b
	return b
}

func (d *Dispatcher) providerConfig(name string) config.ProviderConfig {
	switch name {
	case "anthropic":
		return d.providers.Anthropic
	case "openai":
		return d.providers.OpenAI
	case "bedrock":
		return d.providers.Bedrock
	default:
		return config.ProviderConfig{}
	}
}
