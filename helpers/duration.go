package helpers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string like time.ParseDuration but with
// additional support for "d" (days) and "w" (weeks) suffixes, which appear
// in configuration files (e.g. "14d", "2w").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if strings.HasSuffix(s, "d") || strings.HasSuffix(s, "w") {
		unit := s[len(s)-1]
		value, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		switch unit {
		case 'd':
			return time.Duration(value * 24 * float64(time.Hour)), nil
		case 'w':
			return time.Duration(value * 7 * 24 * float64(time.Hour)), nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
