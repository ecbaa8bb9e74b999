package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var presetNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateChannel checks a (normalized) channel. presetExists may be nil when the caller
// cannot resolve references; the reference is then only checked for shape.
func ValidateChannel(c Channel, presetExists func(name string) bool) error {
	var errs ValidationErrors

	if c.URL == "" {
		errs.add("url", "required")
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.add("url", fmt.Sprintf("must be an absolute http(s) URL, got %q", c.URL))
	}
	if c.Count < 1 {
		errs.add("count", "must be >= 1")
	}
	if c.MinLengthSeconds != nil && *c.MinLengthSeconds < 0 {
		errs.add("min_length_seconds", "must be >= 0")
	}
	if c.MaxLengthSeconds != nil && *c.MaxLengthSeconds < 0 {
		errs.add("max_length_seconds", "must be >= 0")
	}
	if c.MinLengthSeconds != nil && c.MaxLengthSeconds != nil && *c.MinLengthSeconds > *c.MaxLengthSeconds {
		errs.add("min_length_seconds", fmt.Sprintf("min (%d) must be <= max (%d)", *c.MinLengthSeconds, *c.MaxLengthSeconds))
	}
	switch c.UnknownLength {
	case UnknownLengthPass, UnknownLengthReject:
	default:
		errs.add("unknown_length", fmt.Sprintf("must be %q or %q", UnknownLengthPass, UnknownLengthReject))
	}
	switch c.FirstRun {
	case FirstRunNotify, FirstRunSeed:
	default:
		errs.add("first_run", fmt.Sprintf("must be %q or %q", FirstRunNotify, FirstRunSeed))
	}

	rw := c.Rewrite
	if rw.HasInline() {
		if _, err := regexp.Compile(rw.Pattern); err != nil {
			errs.addErr("rewrite.pattern", &RegexCompileError{Field: "rewrite.pattern", Pattern: rw.Pattern, Err: err})
		}
	} else if rw.Replacement != "" {
		errs.add("rewrite.replacement", "set without rewrite.pattern")
	}
	if rw.HasPreset() {
		if !presetNameRe.MatchString(rw.Preset) {
			errs.add("rewrite.preset", fmt.Sprintf("invalid preset name %q", rw.Preset))
		} else if presetExists != nil && !presetExists(rw.Preset) {
			errs.add("rewrite.preset", fmt.Sprintf("unknown preset %q", rw.Preset))
		}
	}
	return errs.orNil()
}

// ValidatePreset checks name shape and pattern syntax. Uniqueness is the registry's job.
func ValidatePreset(p Preset) error {
	var errs ValidationErrors
	name := strings.TrimSpace(p.Name)
	if name == "" {
		errs.add("name", "required")
	} else if !presetNameRe.MatchString(name) {
		errs.add("name", fmt.Sprintf("invalid preset name %q (letters, digits, '_', '.', '-')", name))
	}
	if p.Pattern == "" {
		errs.add("pattern", "required")
	} else if _, err := regexp.Compile(p.Pattern); err != nil {
		errs.addErr("pattern", &RegexCompileError{Field: "pattern", Pattern: p.Pattern, Err: err})
	}
	return errs.orNil()
}
