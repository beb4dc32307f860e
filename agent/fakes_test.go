package agent_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/pprof/profile"

	"go.jacobcolvin.com/pyroagent/agent"
	"go.jacobcolvin.com/pyroagent/capture"
	"go.jacobcolvin.com/pyroagent/internal/foldedtest"
)

const waitTimeout = 5 * time.Second

// fakeCapture is a deterministic [capture.Handle].
type fakeCapture struct {
	initErr  error
	startErr error
	// reportErrs is consumed one entry per Report call; nil entries succeed.
	reportErrs []error
	// profiles is consumed one entry per successful Report call. When empty,
	// reports carry a single-sample profile.
	profiles  []*profile.Profile
	blocklist []string
	hz        int
	inits     int
	starts    int
	stops     int
	reports   int
	state     capture.State
	mu        sync.Mutex
}

func (f *fakeCapture) Initialize(hz int, blocklist []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inits++
	if f.initErr != nil {
		return f.initErr
	}

	f.hz = hz
	f.blocklist = blocklist
	f.state = capture.StateReady

	return nil
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++
	if f.startErr != nil {
		return f.startErr
	}

	f.state = capture.StateRunning

	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != capture.StateRunning {
		return capture.ErrNotRunning
	}

	f.stops++
	f.state = capture.StateReady

	return nil
}

func (f *fakeCapture) Report() (*capture.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reports++

	if len(f.reportErrs) > 0 {
		err := f.reportErrs[0]
		f.reportErrs = f.reportErrs[1:]

		if err != nil {
			return nil, err
		}
	}

	prof := foldedtest.Profile("main;work 1")
	if len(f.profiles) > 0 {
		prof = f.profiles[0]
		f.profiles = f.profiles[1:]
	}

	return &capture.Report{
		StartTime:    time.Unix(12345, 0),
		EndTime:      time.Unix(12355, 0),
		SampleRateHz: 100,
		Profile:      prof,
	}, nil
}

func (f *fakeCapture) State() capture.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeCapture) counts() (inits, starts, stops, reports int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inits, f.starts, f.stops, f.reports
}

type upload struct {
	report *capture.Report
	name   string
}

// fakeUploader records uploads and can fail or block them.
type fakeUploader struct {
	// block, when set, is received from before each upload completes.
	block chan struct{}
	// errs is consumed one entry per call; nil entries succeed.
	errs      []error
	uploads   []upload
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	entered   chan struct{}
	delay     time.Duration
	mu        sync.Mutex
}

func (u *fakeUploader) Ingest(_ context.Context, report *capture.Report, name string) error {
	n := u.inFlight.Add(1)
	defer u.inFlight.Add(-1)

	for {
		peak := u.maxFlight.Load()
		if n <= peak || u.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if u.entered != nil {
		u.entered <- struct{}{}
	}

	if u.block != nil {
		<-u.block
	}

	if u.delay > 0 {
		time.Sleep(u.delay)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.uploads = append(u.uploads, upload{report: report, name: name})

	if len(u.errs) > 0 {
		err := u.errs[0]
		u.errs = u.errs[1:]

		return err
	}

	return nil
}

func (u *fakeUploader) all() []upload {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]upload(nil), u.uploads...)
}

// manualTicker ticks only when the test says so.
type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() { m.stopped.Store(true) }

// tick blocks until the loop has received the tick.
func (m *manualTicker) tick(t *testing.T) {
	t.Helper()

	select {
	case m.ch <- time.Now():
	case <-time.After(waitTimeout):
		t.Fatal("upload loop did not accept tick")
	}
}

func (m *manualTicker) option() agent.Option {
	return agent.WithTicker(func(time.Duration) agent.Ticker { return m })
}

func nextEvent(t *testing.T, sub *agent.Subscription) agent.Event {
	t.Helper()

	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}

		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}

	return agent.Event{}
}

func testConfig() *agent.Config {
	cfg := agent.NewConfig()
	cfg.Endpoint = "http://127.0.0.1:1"
	cfg.ApplicationName = "svc"
	cfg.Tags = map[string]string{"env": "prod"}

	return cfg
}
