package capture

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// DefaultFrequencyHz is the sampling frequency used when none is given. It
// matches the Go runtime's default CPU profile rate.
const DefaultFrequencyHz = 100

// cpuProfiler abstracts the process-wide CPU profiler so tests can fake it.
type cpuProfiler interface {
	StartCPUProfile(w io.Writer, hz int) error
	StopCPUProfile()
}

// runtimeProfiler delegates to [runtime/pprof].
type runtimeProfiler struct{}

func (runtimeProfiler) StartCPUProfile(w io.Writer, hz int) error {
	if hz != DefaultFrequencyHz {
		// pprof.StartCPUProfile always asks for 100Hz; setting the rate
		// first makes that request a no-op (the runtime logs a warning).
		runtime.SetCPUProfileRate(hz)
	}

	return pprof.StartCPUProfile(w) //nolint:wrapcheck // Wrapped by caller.
}

func (runtimeProfiler) StopCPUProfile() {
	pprof.StopCPUProfile()
}

// CPU is a [Handle] backed by the Go runtime CPU profiler.
//
// Profiling is restarted on every [CPU.Report], so each report covers
// exactly the period since the previous one. CPU is safe for concurrent use.
//
// With a frequency other than [DefaultFrequencyHz], every start and restart
// makes the runtime print "cannot set cpu profile rate until previous profile
// has finished" to stderr, since [pprof.StartCPUProfile] always requests the
// default rate after the custom one is in effect. The custom rate still
// applies.
//
// Create instances with [NewCPU].
type CPU struct {
	profiler  cpuProfiler
	now       func() time.Time
	buf       *bytes.Buffer
	start     time.Time
	blocklist []string
	hz        int
	state     State
	mu        sync.Mutex
}

// NewCPU creates an uninitialized [CPU] handle.
func NewCPU() *CPU {
	return newCPU(runtimeProfiler{}, time.Now)
}

func newCPU(p cpuProfiler, now func() time.Time) *CPU {
	return &CPU{
		profiler: p,
		now:      now,
	}
}

// Initialize implements [Handle].
func (c *CPU) Initialize(frequencyHz int, blocklist []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrAlreadyRunning
	}

	if frequencyHz < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFrequency, frequencyHz)
	}

	if frequencyHz == 0 {
		frequencyHz = DefaultFrequencyHz
	}

	c.hz = frequencyHz
	c.blocklist = slices.Clone(blocklist)
	c.state = StateReady

	return nil
}

// Start implements [Handle].
func (c *CPU) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateRunning:
		return ErrAlreadyRunning
	case StateReady:
	}

	buf := new(bytes.Buffer)

	err := c.profiler.StartCPUProfile(buf, c.hz)
	if err != nil {
		return fmt.Errorf("starting CPU profile: %w", err)
	}

	c.buf = buf
	c.start = c.now()
	c.state = StateRunning

	return nil
}

// Stop implements [Handle]. Samples collected since the last report are
// discarded; take a final [CPU.Report] first to keep them.
func (c *CPU) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return ErrNotRunning
	}

	c.profiler.StopCPUProfile()

	c.buf = nil
	c.state = StateReady

	return nil
}

// Report implements [Handle].
func (c *CPU) Report() (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return nil, ErrNotRunning
	}

	c.profiler.StopCPUProfile()

	end := c.now()
	data := c.buf.Bytes()
	start := c.start

	// Restart before parsing to keep the unsampled gap short.
	buf := new(bytes.Buffer)

	err := c.profiler.StartCPUProfile(buf, c.hz)
	if err != nil {
		c.buf = nil
		c.state = StateReady

		return nil, fmt.Errorf("%w: restarting CPU profile: %w", ErrUnusable, err)
	}

	c.buf = buf
	c.start = end

	report := &Report{
		StartTime:    start,
		EndTime:      end,
		SampleRateHz: c.hz,
	}

	if len(data) == 0 {
		return report, nil
	}

	prof, err := profile.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing CPU profile: %w", err)
	}

	FilterBlocked(prof, c.blocklist)

	report.Profile = prof

	return report, nil
}

// State implements [Handle].
func (c *CPU) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}
