package agent

import "time"

// Ticker delivers ticks on C until stopped. It lets tests drive the upload
// loop by hand; the default is backed by [time.Ticker].
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }

func (t timeTicker) Stop() { t.t.Stop() }
