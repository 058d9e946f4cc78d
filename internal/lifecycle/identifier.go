package lifecycle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultIdentifierPrefix is the obligation numbering prefix used when a
// project config does not override it.
const DefaultIdentifierPrefix = "PCEMP"

var identifierSuffix = regexp.MustCompile(`^[0-9]{3,}$`)

// NextIdentifier returns the next PREFIX-NNN candidate given the
// identifiers currently in use. Identifiers with a different prefix or an
// unparseable suffix are ignored. The suffix is zero-padded to three
// digits and grows naturally past 999.
//
// This is only a candidate: concurrent creators can compute the same value,
// so the caller must insert under a uniqueness constraint and retry with a
// recomputed candidate on conflict.
func NextIdentifier(existing []string, prefix string) string {
	if prefix == "" {
		prefix = DefaultIdentifierPrefix
	}
	max := 0
	for _, id := range existing {
		suffix, ok := strings.CutPrefix(id, prefix+"-")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s-%03d", prefix, max+1)
}

// ValidIdentifier reports whether a caller-supplied identifier matches the
// PREFIX-NNN pattern (at least three digits).
func ValidIdentifier(id, prefix string) bool {
	if prefix == "" {
		prefix = DefaultIdentifierPrefix
	}
	suffix, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return false
	}
	return identifierSuffix.MatchString(suffix)
}
