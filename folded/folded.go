package folded

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
)

// SampleType is the pprof sample type used for the count column when the
// profile has one. Runtime CPU profiles carry it at index 0.
const SampleType = "samples"

// Marshal returns the folded encoding of p. A nil profile, or one without
// samples, encodes to an empty (nil) payload.
func Marshal(p *profile.Profile) ([]byte, error) {
	var buf bytes.Buffer

	err := Encode(&buf, p)
	if err != nil {
		return nil, err
	}

	if buf.Len() == 0 {
		return nil, nil
	}

	return buf.Bytes(), nil
}

// Encode writes the folded encoding of p to w.
func Encode(w io.Writer, p *profile.Profile) error {
	if p == nil || len(p.Sample) == 0 {
		return nil
	}

	idx := valueIndex(p)

	counts := make(map[string]int64, len(p.Sample))

	var frames []string

	for _, s := range p.Sample {
		if idx >= len(s.Value) {
			return fmt.Errorf("sample has %d values, want index %d", len(s.Value), idx)
		}

		v := s.Value[idx]
		if v <= 0 {
			continue
		}

		frames = appendFrames(frames[:0], s)
		if len(frames) == 0 {
			continue
		}

		counts[strings.Join(frames, ";")] += v
	}

	stacks := make([]string, 0, len(counts))
	for stack := range counts {
		stacks = append(stacks, stack)
	}

	slices.Sort(stacks)

	line := make([]byte, 0, 256)
	for _, stack := range stacks {
		line = append(line[:0], stack...)
		line = append(line, ' ')
		line = strconv.AppendInt(line, counts[stack], 10)
		line = append(line, '\n')

		_, err := w.Write(line)
		if err != nil {
			return fmt.Errorf("write folded stack: %w", err)
		}
	}

	return nil
}

// valueIndex returns the index of [SampleType] in p, or 0.
func valueIndex(p *profile.Profile) int {
	for i, st := range p.SampleType {
		if st != nil && st.Type == SampleType {
			return i
		}
	}

	return 0
}

// appendFrames appends the frame names of s to dst, root first.
//
// pprof stores the leaf location first, and within a location the innermost
// inlined function first, so both are walked backwards.
func appendFrames(dst []string, s *profile.Sample) []string {
	for i := len(s.Location) - 1; i >= 0; i-- {
		loc := s.Location[i]
		if loc == nil {
			continue
		}

		if len(loc.Line) == 0 {
			dst = append(dst, "0x"+strconv.FormatUint(loc.Address, 16))

			continue
		}

		for j := len(loc.Line) - 1; j >= 0; j-- {
			dst = append(dst, frameName(loc, loc.Line[j]))
		}
	}

	return dst
}

func frameName(loc *profile.Location, line profile.Line) string {
	if line.Function != nil && line.Function.Name != "" {
		return line.Function.Name
	}

	return "0x" + strconv.FormatUint(loc.Address, 16)
}
