package session

import (
	"context"
	"sync"
	"time"
)

// DefaultCountdown is the number of seconds shown before a capture.
const DefaultCountdown = 3

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker returns a Ticker backed by time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Countdown shows From, From-1, ..., 1 one tick apart and fires on the
// tick that reaches zero.
type Countdown struct {
	From      int
	Interval  time.Duration
	NewTicker func(time.Duration) Ticker
}

// Run blocks until fire has been called or ctx is done. fire is called
// at most once and the ticker is stopped before Run returns. A From of
// zero or less fires immediately.
func (c Countdown) Run(ctx context.Context, show func(int), fire func()) error {
	var once sync.Once
	trigger := func() { once.Do(fire) }

	if c.From <= 0 {
		trigger()
		return nil
	}

	interval := c.Interval
	if interval <= 0 {
		interval = time.Second
	}
	newTicker := c.NewTicker
	if newTicker == nil {
		newTicker = NewTicker
	}

	t := newTicker(interval)
	defer t.Stop()

	remaining := c.From
	show(remaining)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			remaining--
			if remaining <= 0 {
				t.Stop()
				trigger()
				return nil
			}
			show(remaining)
		}
	}
}
