package detection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UsageReader exposes the daily success counter maintained by the
// ledger.
type UsageReader interface {
	DailySuccessCount(ctx context.Context, day time.Time) (int64, error)
}

// Gate bounds the number of requests concurrently inside the pipeline
// and enforces the daily call budget. It sheds load rather than
// queueing: when every slot is taken the request is turned away
// immediately.
type Gate struct {
	slots       chan struct{}
	usage       UsageReader
	dailyBudget int
	logger      *zap.Logger
	now         func() time.Time
}

// NewGate builds a gate with the given slot capacity and daily budget.
// A non-positive budget disables the budget check.
func NewGate(capacity, dailyBudget int, usage UsageReader, logger *zap.Logger) *Gate {
	return &Gate{
		slots:       make(chan struct{}, capacity),
		usage:       usage,
		dailyBudget: dailyBudget,
		logger:      logger.Named("admission_gate"),
		now:         time.Now,
	}
}

// Admit checks the daily budget and then tries to take a slot. The
// budget check never consumes a slot. The returned release is
// idempotent and must be called on every exit path.
func (g *Gate) Admit(ctx context.Context) (release func(), err error) {
	if g.dailyBudget > 0 {
		count, err := g.usage.DailySuccessCount(ctx, g.now().UTC())
		if err != nil {
			// Ledger trouble must not take the service down.
			g.logger.Warn("daily usage lookup failed, admitting anyway", zap.Error(err))
		} else if count >= int64(g.dailyBudget) {
			return nil, &Error{Kind: KindBudgetExceeded, Message: "daily call budget reached"}
		}
	}

	select {
	case g.slots <- struct{}{}:
	default:
		return nil, &Error{Kind: KindCapacityExceeded, Message: "all pipeline slots busy"}
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-g.slots })
	}, nil
}

// InFlight reports how many slots are currently held.
func (g *Gate) InFlight() int {
	return len(g.slots)
}

// Capacity reports the configured slot ceiling.
func (g *Gate) Capacity() int {
	return cap(g.slots)
}
