package worker

import (
	"context"
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
)

type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeExhausted
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// CheckFunc performs one status check. It returns true once polling should stop.
type CheckFunc func(ctx context.Context, attempt int) (done bool)

// StatusPoller calls a check every Interval, at most MaxAttempts times. The
// first check fires one Interval after Run starts. Checks run on the calling
// goroutine, so two checks never overlap; ticks that arrive while a check is
// still running are dropped by the ticker.
type StatusPoller struct {
	Interval    time.Duration
	MaxAttempts int
	Logger      logging.Logger
}

func (p *StatusPoller) Run(ctx context.Context, check CheckFunc) Outcome {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return OutcomeCanceled
		case <-ticker.C:
		}

		// select picks randomly when both are ready
		if ctx.Err() != nil {
			return OutcomeCanceled
		}

		if check(ctx, attempt) {
			return OutcomeDone
		}
	}

	if ctx.Err() != nil {
		return OutcomeCanceled
	}

	p.logger().Debug("status polling exhausted", map[string]any{
		"max-attempts": p.MaxAttempts,
	})
	return OutcomeExhausted
}

func (p *StatusPoller) logger() logging.Logger {
	if p.Logger == nil {
		return logging.NopLogger{}
	}
	return p.Logger
}
