package detection

import (
	"context"

	"go.uber.org/zap"
)

// InferenceInvoker is the single-call contract the orchestrator fans
// out over. Satisfied by Client; substituted in tests.
type InferenceInvoker interface {
	Invoke(ctx context.Context, endpoint Endpoint, image []byte) (*PredictionSet, error)
}

// Orchestrator runs the primary and secondary inference calls
// concurrently behind the shared circuit breaker.
type Orchestrator struct {
	invoker   InferenceInvoker
	breaker   *CircuitBreaker
	primary   Endpoint
	secondary Endpoint
	logger    *zap.Logger
}

// NewOrchestrator wires the fan-out over the two configured endpoints.
func NewOrchestrator(invoker InferenceInvoker, breaker *CircuitBreaker, primary, secondary Endpoint, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		invoker:   invoker,
		breaker:   breaker,
		primary:   primary,
		secondary: secondary,
		logger:    logger.Named("orchestrator"),
	}
}

type fanOutResult struct {
	secondary bool
	set       *PredictionSet
	err       error
}

// Detect issues both inference calls in parallel and joins them,
// first failure wins. A failing sibling is not cancelled: it runs to
// completion in its own goroutine, records its outcome on the breaker,
// and its result is discarded. Every classified failure except a
// ConfigError counts against the breaker; a success resets it.
func (o *Orchestrator) Detect(ctx context.Context, image []byte) (*PredictionSet, *PredictionSet, error) {
	if !o.breaker.Allow() {
		o.logger.Warn("circuit open, failing fast")
		return nil, nil, &Error{Kind: KindCircuitOpen, Message: "inference circuit open"}
	}

	// The calls must outlive the caller: when Detect returns on the
	// first failure the request context gets cancelled upstream, and an
	// aborted healthy sibling would record a spurious breaker failure.
	// The per-call timeout still bounds each call.
	callCtx := context.WithoutCancel(ctx)

	// Buffered so a discarded sibling result never blocks its goroutine.
	results := make(chan fanOutResult, 2)
	call := func(endpoint Endpoint, secondary bool) {
		set, err := o.invoker.Invoke(callCtx, endpoint, image)
		if err != nil {
			if KindOf(err) != KindConfigError {
				o.breaker.RecordFailure()
			}
		} else {
			o.breaker.RecordSuccess()
		}
		results <- fanOutResult{secondary: secondary, set: set, err: err}
	}
	go call(o.primary, false)
	go call(o.secondary, true)

	var primarySet, secondarySet *PredictionSet
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			return nil, nil, res.err
		}
		if res.secondary {
			secondarySet = res.set
		} else {
			primarySet = res.set
		}
	}
	return primarySet, secondarySet, nil
}
