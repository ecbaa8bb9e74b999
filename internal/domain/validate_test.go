package domain

import (
	"errors"
	"testing"
)

func validChannel() Channel {
	return Channel{URL: "https://www.youtube.com/@someone/videos"}.Normalize()
}

func TestValidateChannelOK(t *testing.T) {
	if err := ValidateChannel(validChannel(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateChannelErrors(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(c *Channel)
		field string
	}{
		{name: "missing url", mut: func(c *Channel) { c.URL = "" }, field: "url"},
		{name: "relative url", mut: func(c *Channel) { c.URL = "youtube.com/x" }, field: "url"},
		{name: "count zero", mut: func(c *Channel) { c.Count = -1 }, field: "count"},
		{name: "min over max", mut: func(c *Channel) {
			c.MinLengthSeconds = IntPtr(600)
			c.MaxLengthSeconds = IntPtr(60)
		}, field: "min_length_seconds"},
		{name: "bad policy", mut: func(c *Channel) { c.UnknownLength = "maybe" }, field: "unknown_length"},
		{name: "replacement only", mut: func(c *Channel) { c.Rewrite.Replacement = "x" }, field: "rewrite.replacement"},
		{name: "unknown preset", mut: func(c *Channel) { c.Rewrite.Preset = "nope" }, field: "rewrite.preset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChannel()
			tt.mut(&c)
			err := ValidateChannel(c, func(string) bool { return false })
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, fe := range verrs {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidateChannelRegexCompileError(t *testing.T) {
	c := validChannel()
	c.Rewrite = Rewrite{Pattern: "(unclosed", Replacement: "x"}
	err := ValidateChannel(c, nil)
	if !errors.Is(err, ErrRegexCompile) {
		t.Fatalf("expected ErrRegexCompile, got %v", err)
	}
	var rce *RegexCompileError
	if !errors.As(err, &rce) || rce.Pattern != "(unclosed" {
		t.Fatalf("expected RegexCompileError with pattern, got %v", err)
	}
}

func TestValidatePreset(t *testing.T) {
	if err := ValidatePreset(Preset{Name: "invidious", Pattern: `youtube\.com`, Replacement: "yewtu.be"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePreset(Preset{Name: "bad name", Pattern: "x"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
	if err := ValidatePreset(Preset{Name: "p", Pattern: "[a-"}); !errors.Is(err, ErrRegexCompile) {
		t.Fatalf("expected regex compile error, got %v", err)
	}
}

func TestNormalizeKeywords(t *testing.T) {
	c := Channel{URL: " https://x.test/c ", TitleInclude: []string{" Live ", "", "live", "Stream"}}.Normalize()
	if c.URL != "https://x.test/c" {
		t.Fatalf("url not trimmed: %q", c.URL)
	}
	if len(c.TitleInclude) != 2 || c.TitleInclude[0] != "Live" || c.TitleInclude[1] != "Stream" {
		t.Fatalf("unexpected keywords: %#v", c.TitleInclude)
	}
	if c.Count != DefaultCount || c.UnknownLength != UnknownLengthPass || c.FirstRun != FirstRunNotify {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestSplitKeywords(t *testing.T) {
	got := SplitKeywords("a, b,,c ")
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected split: %#v", got)
	}
	if SplitKeywords("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}
