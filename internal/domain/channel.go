package domain

import (
	"strings"
	"time"
)

const DefaultCount = 5

// UnknownLengthPolicy decides what happens to an item without a length when a bound is set.
type UnknownLengthPolicy string

const (
	UnknownLengthPass   UnknownLengthPolicy = "pass"
	UnknownLengthReject UnknownLengthPolicy = "reject"
)

// FirstRunPolicy decides what the first ever pass of a channel does with qualifying items.
//
//   - notify: dispatch them (bounded by Count), like any later pass.
//   - seed:   record them as notified without dispatching.
type FirstRunPolicy string

const (
	FirstRunNotify FirstRunPolicy = "notify"
	FirstRunSeed   FirstRunPolicy = "seed"
)

// Channel is one monitored source and its filter/rewrite configuration.
type Channel struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`

	// Count is how many of the most recent items are scanned per pass.
	Count int `json:"count"`

	TitleInclude       []string `json:"title_include,omitempty"`
	TitleExclude       []string `json:"title_exclude,omitempty"`
	DescriptionInclude []string `json:"description_include,omitempty"`
	DescriptionExclude []string `json:"description_exclude,omitempty"`

	// Inclusive bounds in seconds; nil means unset.
	MinLengthSeconds *int `json:"min_length_seconds,omitempty"`
	MaxLengthSeconds *int `json:"max_length_seconds,omitempty"`

	UnknownLength UnknownLengthPolicy `json:"unknown_length,omitempty"`
	FirstRun      FirstRunPolicy      `json:"first_run,omitempty"`

	Rewrite Rewrite `json:"rewrite,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rewrite holds either an inline rule, a preset reference, or both (inline wins).
type Rewrite struct {
	Preset      string `json:"preset,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

func (r Rewrite) HasInline() bool { return r.Pattern != "" }
func (r Rewrite) HasPreset() bool { return strings.TrimSpace(r.Preset) != "" }
func (r Rewrite) IsZero() bool    { return !r.HasInline() && !r.HasPreset() && r.Replacement == "" }

// Normalize trims keyword lists and fills policy defaults. It does not validate.
func (c Channel) Normalize() Channel {
	c.URL = strings.TrimSpace(c.URL)
	c.Name = strings.TrimSpace(c.Name)
	if c.Count == 0 {
		c.Count = DefaultCount
	}
	c.TitleInclude = cleanKeywords(c.TitleInclude)
	c.TitleExclude = cleanKeywords(c.TitleExclude)
	c.DescriptionInclude = cleanKeywords(c.DescriptionInclude)
	c.DescriptionExclude = cleanKeywords(c.DescriptionExclude)
	if c.UnknownLength == "" {
		c.UnknownLength = UnknownLengthPass
	}
	if c.FirstRun == "" {
		c.FirstRun = FirstRunNotify
	}
	c.Rewrite.Preset = strings.TrimSpace(c.Rewrite.Preset)
	return c
}

// DisplayName picks the best label for messages.
func (c Channel) DisplayName(providerName string) string {
	if c.Name != "" {
		return c.Name
	}
	if s := strings.TrimSpace(providerName); s != "" {
		return s
	}
	return c.URL
}

// ReferencesPreset reports whether the channel uses the named preset.
func (c Channel) ReferencesPreset(name string) bool {
	return c.Rewrite.HasPreset() && c.Rewrite.Preset == name
}

// SplitKeywords parses a comma separated CLI value.
func SplitKeywords(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return cleanKeywords(strings.Split(s, ","))
}

func cleanKeywords(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IntPtr is a small helper for optional bounds.
func IntPtr(v int) *int { return &v }
