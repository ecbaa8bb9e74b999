package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes the normalized kind of a schedule string.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Parsed represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "0 */6 * * *", "@hourly", "@every 6h"
//   - Interval duration: "6h", "90m"
//   - Interval HH:MM: "06:00" (6 hours), "00:45" (45 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type Parsed struct {
	Kind   Kind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// Spec is the cron expression that triggers this schedule.
func (p Parsed) Spec() string {
	if p.Kind == KindInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// cronParser accepts both 5-field and 6-field (with seconds) specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse parses a schedule string into a cron expression or an interval and checks that the
// cron form is accepted by the trigger parser.
func Parse(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if p, err := parseInterval(s); err == nil {
		return p, nil
	}
	return Parsed{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 */6 * * *', HH:MM like '06:00', or duration like '6h')",
		raw,
	)
}

// FromInterval builds an interval schedule. It rejects non-positive durations.
func FromInterval(every time.Duration) (Parsed, error) {
	if every <= 0 {
		return Parsed{}, fmt.Errorf("interval must be > 0")
	}
	return Parsed{Kind: KindInterval, Every: every, Source: "duration"}, nil
}

func parseCron(expr string) (Parsed, error) {
	if expr == "" {
		return Parsed{}, fmt.Errorf("cron schedule required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Parsed{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Parsed{Kind: KindCron, Cron: expr, Source: "cron"}, nil
}

func parseInterval(v string) (Parsed, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Parsed{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Parsed{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Parsed{}, fmt.Errorf("interval must be > 0")
		}
		return Parsed{Kind: KindInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Parsed{}, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '6h')", v)
	}
	if d <= 0 {
		return Parsed{}, fmt.Errorf("interval must be > 0")
	}
	return Parsed{Kind: KindInterval, Every: d, Source: "duration"}, nil
}
