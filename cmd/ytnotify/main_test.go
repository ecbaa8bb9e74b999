package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"ytnotify/internal/domain"
	"ytnotify/internal/monitor"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), exitError},
		{fmt.Errorf("load: %w", domain.ErrInvalidConfig), exitInvalid},
		{fmt.Errorf("run: %w", domain.ErrStateCorrupt), exitStateCorrupt},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false, "yes": true}
	for in, want := range cases {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(in), &out, "Save?")
		if err != nil {
			t.Fatalf("confirm(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("confirm(%q)=%v want %v", in, got, want)
		}
		if !strings.Contains(out.String(), "Save? [y/N]") {
			t.Fatalf("prompt missing: %q", out.String())
		}
	}
}

func TestChannelFlagsEditOnlyTouchesChangedFlags(t *testing.T) {
	var f channelFlags
	fs := pflag.NewFlagSet("edit", pflag.ContinueOnError)
	f.register(fs, true)
	if err := fs.Parse([]string{"--title-exclude", "shorts, live", "--min-length=-1", "--clear-rewrite", "--preset", "inv"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cur := domain.Channel{
		ID:               "ch-1",
		URL:              "https://www.youtube.com/@example",
		Name:             "Example",
		Count:            10,
		MinLengthSeconds: domain.IntPtr(60),
		Rewrite:          domain.Rewrite{Pattern: "a", Replacement: "b"},
	}
	got := f.apply(fs, cur, false)

	if got.Name != "Example" || got.Count != 10 {
		t.Fatalf("unchanged fields were overwritten: %+v", got)
	}
	if len(got.TitleExclude) != 2 || got.TitleExclude[1] != "live" {
		t.Fatalf("title exclude=%v", got.TitleExclude)
	}
	if got.MinLengthSeconds != nil {
		t.Fatalf("negative min length should clear the bound")
	}
	if got.Rewrite != (domain.Rewrite{Preset: "inv"}) {
		t.Fatalf("rewrite=%+v", got.Rewrite)
	}
}

func TestChannelFlagsAddUsesDefaults(t *testing.T) {
	var f channelFlags
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	f.register(fs, false)
	if err := fs.Parse([]string{"--max-length", "600"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := f.apply(fs, domain.Channel{URL: "https://www.youtube.com/@example"}, true)
	if got.Count != domain.DefaultCount || got.MinLengthSeconds != nil || got.MaxLengthSeconds == nil || *got.MaxLengthSeconds != 600 {
		t.Fatalf("got %+v", got)
	}
}

func TestRenderResults(t *testing.T) {
	out := renderResults([]monitor.PassResult{
		{ChannelName: "Example", State: monitor.StateDone, Fetched: 5, Qualified: 2, Dispatched: 2},
		{ChannelName: "Broken", State: monitor.StateFailed, Err: domain.ErrProviderUnavailable},
	})
	for _, want := range []string{"Channel", "Example", "Broken", string(monitor.StateFailed)} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}
