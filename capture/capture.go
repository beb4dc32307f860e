package capture

import (
	"errors"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

var (
	// ErrInvalidFrequency indicates a negative sampling frequency.
	ErrInvalidFrequency = errors.New("invalid sampling frequency")
	// ErrNotInitialized indicates Start was called before Initialize.
	ErrNotInitialized = errors.New("capture not initialized")
	// ErrAlreadyRunning indicates the handle is already profiling.
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrNotRunning indicates the handle is not profiling.
	ErrNotRunning = errors.New("capture not running")
	// ErrUnusable indicates the handle can no longer produce reports and
	// must be restarted.
	ErrUnusable = errors.New("capture unusable")
)

// State is the lifecycle state of a [Handle].
type State int

// Handle states.
const (
	StateUninitialized State = iota
	StateReady
	StateRunning
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	}

	return "unknown"
}

// Handle is a sampling profiler session.
//
// Implementations need not be safe for concurrent use; the agent drives a
// handle from a single goroutine.
type Handle interface {
	// Initialize configures the sampling frequency (0 selects the default)
	// and the blocklist. It moves the handle to [StateReady].
	Initialize(frequencyHz int, blocklist []string) error
	// Start begins sampling. It requires [StateReady].
	Start() error
	// Stop ends sampling and returns the handle to [StateReady].
	Stop() error
	// Report returns the samples collected since the previous report (or
	// since Start) and continues sampling. An error wrapping [ErrUnusable]
	// means sampling has stopped.
	Report() (*Report, error)
	// State returns the current lifecycle state.
	State() State
}

// Report is a snapshot of the samples accumulated over one collection
// period.
type Report struct {
	// StartTime is when collection for this report began.
	StartTime time.Time
	// EndTime is when the snapshot was taken.
	EndTime time.Time
	// Profile holds the samples. It may be nil when nothing was collected.
	Profile *profile.Profile
	// SampleRateHz is the sampling frequency the samples were taken at.
	SampleRateHz int
}

// Blocked reports whether the leaf frame of s belongs to a function matching
// one of the blocklist prefixes.
func Blocked(s *profile.Sample, blocklist []string) bool {
	if len(blocklist) == 0 || len(s.Location) == 0 {
		return false
	}

	leaf := s.Location[0]
	if leaf == nil || len(leaf.Line) == 0 || leaf.Line[0].Function == nil {
		return false
	}

	name := leaf.Line[0].Function.Name
	for _, prefix := range blocklist {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

// FilterBlocked removes samples matched by [Blocked] from p in place.
func FilterBlocked(p *profile.Profile, blocklist []string) {
	if p == nil || len(blocklist) == 0 {
		return
	}

	kept := p.Sample[:0]
	for _, s := range p.Sample {
		if !Blocked(s, blocklist) {
			kept = append(kept, s)
		}
	}

	for i := len(kept); i < len(p.Sample); i++ {
		p.Sample[i] = nil
	}

	p.Sample = kept
}
