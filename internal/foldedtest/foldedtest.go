// Package foldedtest provides helpers for tests that deal with folded stack
// payloads and the pprof profiles they are encoded from.
package foldedtest

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// Lines joins folded stack lines, terminating each with LF, which is the
// exact shape the encoder produces.
//
// Example:
//
//	want := foldedtest.Lines(
//		"main;work 3",
//		"main;idle 1",
//	) // -> "main;work 3\nmain;idle 1\n"
func Lines(ss ...string) string {
	var sb strings.Builder
	for _, s := range ss {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	return sb.String()
}

// Profile builds a CPU-shaped [*profile.Profile] from folded notation. Each
// argument is "root;...;leaf count". Frames with the same name share a
// function and location, so the result resembles a parsed runtime profile.
//
// It panics on malformed input, since it is only called with literals.
func Profile(stacks ...string) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     int64(10 * time.Millisecond),
		TimeNanos:  time.Unix(12345, 0).UnixNano(),
	}

	locs := map[string]*profile.Location{}

	for _, stack := range stacks {
		idx := strings.LastIndexByte(stack, ' ')
		if idx < 0 {
			panic("foldedtest: missing count in " + strconv.Quote(stack))
		}

		count, err := strconv.ParseInt(stack[idx+1:], 10, 64)
		if err != nil {
			panic("foldedtest: bad count in " + strconv.Quote(stack))
		}

		frames := strings.Split(stack[:idx], ";")

		// pprof stores the leaf first.
		sample := &profile.Sample{
			Value: []int64{count, count * p.Period},
		}
		for i := len(frames) - 1; i >= 0; i-- {
			sample.Location = append(sample.Location, location(p, locs, frames[i]))
		}

		p.Sample = append(p.Sample, sample)
	}

	return p
}

func location(p *profile.Profile, locs map[string]*profile.Location, name string) *profile.Location {
	if loc, ok := locs[name]; ok {
		return loc
	}

	id := uint64(len(locs) + 1)
	fn := &profile.Function{ID: id, Name: name, SystemName: name}
	loc := &profile.Location{
		ID:      id,
		Address: 0x1000 + id,
		Line:    []profile.Line{{Function: fn, Line: 1}},
	}

	p.Function = append(p.Function, fn)
	p.Location = append(p.Location, loc)
	locs[name] = loc

	return loc
}
