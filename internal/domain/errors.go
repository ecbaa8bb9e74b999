package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrInvalidConfig is wrapped by ValidationErrors and returned before anything is persisted.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrRegexCompile is wrapped by *RegexCompileError.
	ErrRegexCompile = errors.New("regex compile error")

	ErrPresetExists = errors.New("preset already exists")
	ErrPresetInUse  = errors.New("preset is referenced by channels")

	// ErrProviderUnavailable marks a failed metadata fetch. The pass fails; the next one retries.
	ErrProviderUnavailable = errors.New("metadata provider unavailable")
	// ErrDispatch marks a failed notifier call. The item stays unnotified.
	ErrDispatch = errors.New("dispatch failed")

	// ErrStateCorrupt means persisted state could not be read back. Fatal for the run.
	ErrStateCorrupt = errors.New("state store corrupt")

	ErrPassInFlight = errors.New("pass already running for channel")
)

// RegexCompileError reports an invalid pattern at config-write time.
type RegexCompileError struct {
	Field   string
	Pattern string
	Err     error
}

func (e *RegexCompileError) Error() string {
	return fmt.Sprintf("%s: invalid pattern %q: %v", e.Field, e.Pattern, e.Err)
}

func (e *RegexCompileError) Unwrap() []error { return []error{ErrRegexCompile, e.Err} }

// PresetInUseError lists the channels that still reference a preset.
type PresetInUseError struct {
	Name     string
	Channels []string
}

func (e *PresetInUseError) Error() string {
	return fmt.Sprintf("preset %q is referenced by %d channel(s): %s", e.Name, len(e.Channels), strings.Join(e.Channels, ", "))
}

func (e *PresetInUseError) Unwrap() error { return ErrPresetInUse }

// FieldError is a single validation problem.
type FieldError struct {
	Field string
	Msg   string
	Err   error
}

func (e FieldError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Msg
}

// ValidationErrors collects every problem found in one record so the CLI can show them together.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Error())
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(v)+1)
	out = append(out, ErrInvalidConfig)
	for _, fe := range v {
		if fe.Err != nil {
			out = append(out, fe.Err)
		}
	}
	return out
}

func (v *ValidationErrors) add(field, msg string) {
	*v = append(*v, FieldError{Field: field, Msg: msg})
}

func (v *ValidationErrors) addErr(field string, err error) {
	*v = append(*v, FieldError{Field: field, Err: err})
}

func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
