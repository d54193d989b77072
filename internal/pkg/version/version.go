// Package version compares the API version reported by a Kahla server with
// the one this client was built against.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

type Match int

const (
	// Exact means both versions are equal.
	Exact Match = iota
	// Compatible means major and minor agree; patch levels differ.
	Compatible
	// Mismatch means the versions differ in major or minor.
	Mismatch
	// Unknown means at least one side could not be parsed.
	Unknown
)

func (m Match) String() string {
	switch m {
	case Exact:
		return "exact"
	case Compatible:
		return "compatible"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Compare classifies remote against local. Unparsable input falls back to a
// plain string comparison so that "Exact" is still reported for identical
// non-semver strings.
func Compare(local, remote string) (Match, error) {
	local = strings.TrimSpace(local)
	remote = strings.TrimSpace(remote)
	if local == remote && local != "" {
		return Exact, nil
	}

	lv, err := semver.NewVersion(local)
	if err != nil {
		return Unknown, fmt.Errorf("parse local version %q: %w", local, err)
	}
	rv, err := semver.NewVersion(remote)
	if err != nil {
		return Unknown, fmt.Errorf("parse remote version %q: %w", remote, err)
	}

	switch {
	case lv.Equal(rv):
		return Exact, nil
	case lv.Major() == rv.Major() && lv.Minor() == rv.Minor():
		return Compatible, nil
	default:
		return Mismatch, nil
	}
}
