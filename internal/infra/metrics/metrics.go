package metrics

import "sync/atomic"

type Counters struct {
	PaymentsInitiated        uint64
	PaymentsInitiationFailed uint64
	StatusPolls              uint64
	StatusPollErrors         uint64
	PaymentsSucceeded        uint64
	PaymentsFailed           uint64
	PaymentsTimedOut         uint64
}

func (c *Counters) IncInitiated() {
	atomic.AddUint64(&c.PaymentsInitiated, 1)
}

func (c *Counters) IncInitiationFailed() {
	atomic.AddUint64(&c.PaymentsInitiationFailed, 1)
}

func (c *Counters) IncPolls() {
	atomic.AddUint64(&c.StatusPolls, 1)
}

func (c *Counters) IncPollErrors() {
	atomic.AddUint64(&c.StatusPollErrors, 1)
}

func (c *Counters) IncSucceeded() {
	atomic.AddUint64(&c.PaymentsSucceeded, 1)
}

func (c *Counters) IncFailed() {
	atomic.AddUint64(&c.PaymentsFailed, 1)
}

func (c *Counters) IncTimedOut() {
	atomic.AddUint64(&c.PaymentsTimedOut, 1)
}

// Snapshot returns a consistent-per-field copy safe to read while counters move.
func (c *Counters) Snapshot() Counters {
	return Counters{
		PaymentsInitiated:        atomic.LoadUint64(&c.PaymentsInitiated),
		PaymentsInitiationFailed: atomic.LoadUint64(&c.PaymentsInitiationFailed),
		StatusPolls:              atomic.LoadUint64(&c.StatusPolls),
		StatusPollErrors:         atomic.LoadUint64(&c.StatusPollErrors),
		PaymentsSucceeded:        atomic.LoadUint64(&c.PaymentsSucceeded),
		PaymentsFailed:           atomic.LoadUint64(&c.PaymentsFailed),
		PaymentsTimedOut:         atomic.LoadUint64(&c.PaymentsTimedOut),
	}
}
