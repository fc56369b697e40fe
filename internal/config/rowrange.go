package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// RowRange is a parsed RowProcessingRange: 1-indexed inclusive bounds,
// zero meaning unbounded on that side.
type RowRange struct {
	Start int
	End   int
}

// Contains reports whether the 1-indexed row falls inside the range.
func (r RowRange) Contains(row int) bool {
	if r.Start > 0 && row < r.Start {
		return false
	}
	if r.End > 0 && row > r.End {
		return false
	}
	return true
}

// OpenEnded reports whether the range has no upper bound.
func (r RowRange) OpenEnded() bool { return r.End == 0 }

// ParseRowRange parses the forms "a-b", "a-", "-b", "a" and "".
func ParseRowRange(raw string) (RowRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return RowRange{}, nil
	}

	if idx := strings.Index(raw, "-"); idx >= 0 {
		startStr := strings.TrimSpace(raw[:idx])
		endStr := strings.TrimSpace(raw[idx+1:])

		var rr RowRange
		if startStr != "" {
			n, err := parsePositive(startStr)
			if err != nil {
				return RowRange{}, err
			}
			rr.Start = n
		}
		if endStr != "" {
			n, err := parsePositive(endStr)
			if err != nil {
				return RowRange{}, err
			}
			rr.End = n
		}
		if rr.Start > 0 && rr.End > 0 && rr.End < rr.Start {
			return RowRange{}, eris.Errorf("config: row range %q has end before start", raw)
		}
		return rr, nil
	}

	// Single number "N" means the first N rows.
	n, err := parsePositive(raw)
	if err != nil {
		return RowRange{}, err
	}
	return RowRange{End: n}, nil
}

func parsePositive(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, eris.Errorf("config: invalid row range component %q", s)
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, eris.Errorf("config: row range component %q must be positive", s)
	}
	return n, nil
}
