package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.jacobcolvin.com/pyroagent/capture"
	"go.jacobcolvin.com/pyroagent/ingest"
)

var (
	// ErrAlreadyRunning indicates Start was called on a running agent.
	ErrAlreadyRunning = errors.New("agent already running")
	// ErrNotRunning indicates Stop was called on an agent that is not
	// running, including a second Stop after the first completed.
	ErrNotRunning = errors.New("agent not running")
	// ErrCaptureInit indicates the capture handle could not be initialized
	// or started. The run ends without uploading anything.
	ErrCaptureInit = errors.New("capture initialization failed")
	// ErrCaptureSnapshot indicates the capture handle failed to produce a
	// report.
	ErrCaptureSnapshot = errors.New("capture snapshot failed")
)

// State is the lifecycle state of an [Agent].
type State int

// Agent states.
const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}

	return "unknown"
}

// Uploader sends one report to the ingestion service. [*ingest.Client]
// implements it.
type Uploader interface {
	Ingest(ctx context.Context, report *capture.Report, name string) error
}

// Option configures an [Agent].
type Option func(*Agent)

// WithCapture sets the capture handle. The default is [capture.NewCPU].
func WithCapture(h capture.Handle) Option {
	return func(a *Agent) {
		a.capture = h
	}
}

// WithUploader sets the uploader. The default is an [ingest.Client] for the
// configured endpoint.
func WithUploader(u Uploader) Option {
	return func(a *Agent) {
		a.uploader = u
	}
}

// WithIngestOptions passes opts to the default [ingest.Client]. It has no
// effect together with [WithUploader].
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(a *Agent) {
		a.ingestOpts = append(a.ingestOpts, opts...)
	}
}

// WithLogger sets the logger that receives per-cycle results. The default
// discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRegisterer registers the agent's [Metrics] with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Agent) {
		a.registerer = reg
	}
}

// WithTicker replaces the ticker that paces uploads.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(a *Agent) {
		if newTicker != nil {
			a.newTicker = newTicker
		}
	}
}

// WithEventBufferSize sets the per-subscriber event buffer size. Values
// less than 1 are clamped to 1.
func WithEventBufferSize(n int) Option {
	return func(a *Agent) {
		a.eventBufSize = n
	}
}

// Agent periodically captures and uploads profiles. It is safe for
// concurrent use.
//
// Create instances with [Config.NewAgent].
type Agent struct {
	capture      capture.Handle
	uploader     Uploader
	registerer   prometheus.Registerer
	logger       *slog.Logger
	metrics      *Metrics
	// events holds subscriptions waiting for the next run.
	events       *Events
	newTicker    func(time.Duration) Ticker
	run          *run
	ingestOpts   []ingest.Option
	name         string
	config       Config
	eventBufSize int
	state        State
	mu           sync.Mutex
}

// run is one Start..Stop cycle. The goroutine owns the capture handle and
// the uploader until done is closed; err is written before that.
type run struct {
	events *Events
	stop   chan struct{}
	done   chan struct{}
	err    error
}

// NewAgent validates c and builds an idle [Agent] from a snapshot of it.
func (c *Config) NewAgent(opts ...Option) (*Agent, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		config:       c.clone(),
		name:         c.SeriesName(),
		logger:       slog.New(slog.DiscardHandler),
		newTicker:    newTimeTicker,
		eventBufSize: defaultEventBufferSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.capture == nil {
		a.capture = capture.NewCPU()
	}

	if a.uploader == nil {
		client, err := ingest.NewClient(a.config.Endpoint, a.ingestOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}

		a.uploader = client
	}

	a.metrics, err = NewMetrics(a.registerer)
	if err != nil {
		return nil, err
	}

	a.events = NewEvents(a.eventBufSize)
	a.logger = a.logger.With(slog.String("series", a.name))

	return a, nil
}

// SeriesName returns the canonical series name uploads are sent under.
func (a *Agent) SeriesName() string {
	return a.name
}

// Metrics returns the agent's metrics.
func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

// Subscribe returns a [Subscription] to the result of every upload cycle of
// the current run, or of the next run when the agent is not running. The
// subscription's channel is closed once [Agent.Stop] has delivered the
// flush event; subscribe again to follow a restarted agent.
func (a *Agent) Subscribe() *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.run != nil {
		return a.run.events.Subscribe()
	}

	return a.events.Subscribe()
}

// Done returns a channel that is closed when the current run's loop exits,
// either because [Agent.Stop] was called or because the run ended early
// (see [ErrCaptureInit]). It returns nil when the agent is not running.
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.run == nil {
		return nil
	}

	return a.run.done
}

// State returns the current lifecycle state. A run that ended early (see
// [ErrCaptureInit]) stays [StateRunning] until [Agent.Stop] collects its
// result.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Start launches the background upload loop and returns immediately.
// Capture initialization happens in the background; its failure closes
// [Agent.Done] and is reported by [Agent.Stop].
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateRunning || a.state == StateStopping {
		return ErrAlreadyRunning
	}

	r := &run{
		events: a.events,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	a.run = r
	a.events = NewEvents(a.eventBufSize)
	a.state = StateRunning
	a.metrics.running.Set(1)

	a.logger.Info("starting profiling agent",
		slog.Int("sample_rate", a.config.FrequencyHz),
		slog.Duration("interval", ingest.WindowWidth),
	)

	go a.loop(r)

	return nil
}

// Stop requests a final flush and blocks until the background loop exits,
// returning its error. An in-flight upload is not interrupted, so Stop
// waits for as long as that upload takes.
//
// Subscriptions to the run are closed before Stop returns, after they have
// received the flush event.
//
// Stop returns [ErrNotRunning] without blocking if the agent is not
// running, including when another Stop is already in progress.
func (a *Agent) Stop() error {
	a.mu.Lock()

	if a.state != StateRunning {
		a.mu.Unlock()

		return ErrNotRunning
	}

	r := a.run
	a.state = StateStopping
	a.mu.Unlock()

	close(r.stop)
	<-r.done
	r.events.Close()

	a.mu.Lock()
	a.run = nil
	a.state = StateStopped
	a.metrics.running.Set(0)
	a.mu.Unlock()

	if r.err != nil {
		a.logger.Warn("profiling agent stopped with error", slog.Any("error", r.err))
	} else {
		a.logger.Info("profiling agent stopped")
	}

	return r.err
}
