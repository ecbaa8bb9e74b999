package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseDurationField reads a duration knob such as "90s", "6h" or "1d12h".
// Empty yields 0. Negative values are rejected. path names the key in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseWithDays(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (e.g. 30s, 6h, 1d): %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// parseWithDays accepts a leading "<n>d" in front of a time.ParseDuration string.
func parseWithDays(s string) (time.Duration, error) {
	i := strings.IndexByte(s, 'd')
	if i < 0 {
		return time.ParseDuration(s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, fmt.Errorf("bad day count %q", s[:i])
	}
	d := time.Duration(n) * day
	if rest := s[i+1:]; rest != "" {
		r, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			r = -r
		}
		d += r
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def used for an empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// HoursToDuration converts monitor.interval_hours (and --interval-hours), which may be fractional.
func HoursToDuration(path string, h float64) (time.Duration, error) {
	if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return 0, fmt.Errorf("%s: %v is not a non-negative number of hours", path, h)
	}
	return time.Duration(h * float64(time.Hour)), nil
}
