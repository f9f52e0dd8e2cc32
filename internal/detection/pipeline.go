package detection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smnthegr/calamansi-detection/internal/logging"
)

// Attempt summarizes one finished detection for the audit trail.
type Attempt struct {
	RequestID    string
	SourceID     string
	Status       string
	Reason       string
	Confidence   float64
	ProcessingMs int64
	Success      bool
}

// WindowDecision is the ledger's answer to a sliding-window check.
type WindowDecision struct {
	Allowed bool
	Reason  string
}

// Ledger is the narrow persistence contract the pipeline consumes.
// Audit writes are fire-and-forget; window checks fail open.
type Ledger interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
	CheckWindowLimit(ctx context.Context, sourceID string, window time.Duration, maxRequests int) (WindowDecision, error)
	DailySuccessCount(ctx context.Context, day time.Time) (int64, error)
}

// Normalizer shrinks an image under a dimension budget, best effort.
type Normalizer interface {
	Normalize(image []byte, maxDimension int) []byte
}

// Pipeline is the full admission, resilience, and decision flow for
// one uploaded image.
type Pipeline struct {
	gate         *Gate
	orchestrator *Orchestrator
	engine       Engine
	ledger       Ledger
	normalizer   Normalizer
	logger       *zap.Logger

	maxDimension int
	window       time.Duration
	windowMax    int
}

// PipelineOptions carries the request-shaping tunables.
type PipelineOptions struct {
	MaxImageDimension int
	Window            time.Duration
	WindowMaxRequests int
}

// NewPipeline wires the stages together.
func NewPipeline(gate *Gate, orchestrator *Orchestrator, engine Engine, ledger Ledger, normalizer Normalizer, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		gate:         gate,
		orchestrator: orchestrator,
		engine:       engine,
		ledger:       ledger,
		normalizer:   normalizer,
		logger:       logger.Named("pipeline"),
		maxDimension: opts.MaxImageDimension,
		window:       opts.Window,
		windowMax:    opts.WindowMaxRequests,
	}
}

// Detect runs one request through the pipeline and always returns
// exactly one Outcome. The audit record is written on every exit path
// and never fails the request; the admission slot, when taken, is
// released exactly once.
func (p *Pipeline) Detect(ctx context.Context, req Request) Outcome {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	opLogger := logging.WithSource(logging.WithOperation(p.logger, "pipeline.detect", req.RequestID), req.SourceID)

	outcome := p.process(ctx, req, opLogger)

	elapsed := time.Since(start).Milliseconds()
	if outcome.Result != nil {
		outcome.Result.ProcessingTimeMs = elapsed
	}
	p.record(ctx, req, outcome, elapsed, opLogger)
	return outcome
}

func (p *Pipeline) process(ctx context.Context, req Request, opLogger *zap.Logger) Outcome {
	if p.windowMax > 0 {
		decision, err := p.ledger.CheckWindowLimit(ctx, req.SourceID, p.window, p.windowMax)
		if err != nil {
			opLogger.Warn("window limit check failed, proceeding", zap.Error(err))
		} else if !decision.Allowed {
			opLogger.Info("request over window limit", zap.String("reason", decision.Reason))
			return failed(&Error{Kind: KindSourceRateLimited, Message: decision.Reason})
		}
	}

	release, err := p.gate.Admit(ctx)
	if err != nil {
		opLogger.Info("request not admitted", zap.String("kind", string(KindOf(err))))
		return failed(err)
	}
	defer release()

	image := p.normalizer.Normalize(req.Image, p.maxDimension)

	primary, secondary, err := p.orchestrator.Detect(ctx, image)
	if err != nil {
		opLogger.Warn("fan-out failed",
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		return failed(err)
	}

	engine := p.engine
	if req.PrimaryThreshold != nil {
		engine.PrimaryThreshold = *req.PrimaryThreshold
	}
	if req.SecondaryThreshold != nil {
		engine.SecondaryThreshold = *req.SecondaryThreshold
	}
	return engine.Decide(primary, secondary)
}

func (p *Pipeline) record(ctx context.Context, req Request, outcome Outcome, elapsed int64, opLogger *zap.Logger) {
	reason := string(outcome.Reason)
	if outcome.Status == StatusFailed {
		reason = string(outcome.Kind)
	}
	attempt := Attempt{
		RequestID:    req.RequestID,
		SourceID:     req.SourceID,
		Status:       string(outcome.Status),
		Reason:       reason,
		Confidence:   outcome.Confidence,
		ProcessingMs: elapsed,
		Success:      outcome.Status != StatusFailed,
	}
	if err := p.ledger.RecordAttempt(ctx, attempt); err != nil {
		opLogger.Warn("audit write failed", zap.Error(err))
	}
}
