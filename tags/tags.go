package tags

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ReservedName is the tag key the ingestion service uses for the series name
// itself. It is never included in a merged name.
const ReservedName = "__name__"

// ErrInvalidTag indicates a tag entry that could not be parsed.
var ErrInvalidTag = errors.New("invalid tag")

// Merge combines applicationName and tags into a canonical series name.
//
// Entries are rendered as "key=value" and sorted by the full rendered string.
// If no tags remain after dropping [ReservedName], applicationName is returned
// unchanged.
func Merge(applicationName string, tags map[string]string) string {
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		if k == ReservedName {
			continue
		}

		pairs = append(pairs, k+"="+v)
	}

	if len(pairs) == 0 {
		return applicationName
	}

	slices.Sort(pairs)

	return applicationName + "{" + strings.Join(pairs, ",") + "}"
}

// Parse parses a comma separated list of "key=value" entries, as accepted by
// the --tags flag. Surrounding whitespace is ignored and later duplicates
// overwrite earlier ones. An empty string yields an empty map.
func Parse(s string) (map[string]string, error) {
	out := map[string]string{}

	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		k, v, ok := strings.Cut(entry, "=")
		k = strings.TrimSpace(k)

		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, entry)
		}

		out[k] = strings.TrimSpace(v)
	}

	return out, nil
}
