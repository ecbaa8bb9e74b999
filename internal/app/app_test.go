package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ytnotify/internal/config"
	"ytnotify/internal/domain"
	kit "ytnotify/internal/transport"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	to    []kit.ChatTarget
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.to = append(f.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeProvider struct {
	items []domain.Item
}

func (p fakeProvider) FetchRecent(_ context.Context, _ string, count int) ([]domain.Item, error) {
	if count < len(p.items) {
		return p.items[:count], nil
	}
	return p.items, nil
}

const baseConfig = `
telegram:
  chat: "-100123"
logging:
  level: error
  console: true
storage:
  driver: memory
notifier:
  rate_per_sec: 1000
  burst: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestApp(t *testing.T, body string, opts ...Option) (*App, *fakeSender) {
	t.Helper()
	t.Setenv(config.EnvToken, "")
	snd := &fakeSender{}
	prov := fakeProvider{items: []domain.Item{
		{ID: "v1", Title: "First", URL: "https://www.youtube.com/watch?v=v1", Length: domain.IntPtr(120), ChannelName: "Example"},
		{ID: "v2", Title: "Second", URL: "https://www.youtube.com/watch?v=v2", Length: domain.IntPtr(240), ChannelName: "Example"},
	}}
	opts = append([]Option{WithSender(snd), WithProvider(prov)}, opts...)
	a, err := New(writeConfig(t, body), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, snd
}

func addChannel(t *testing.T, a *App, ch domain.Channel) domain.Channel {
	t.Helper()
	out, err := a.Channels().Commit(context.Background(), ch)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return out
}

func TestRunOnceSendsNewItemsOnce(t *testing.T) {
	a, snd := newTestApp(t, baseConfig)
	addChannel(t, a, domain.Channel{URL: "https://www.youtube.com/@example", Count: 5})

	ctx := context.Background()
	res, err := a.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(res) != 1 || res[0].Dispatched != 2 {
		t.Fatalf("results=%+v", res)
	}
	got := snd.sent()
	if len(got) != 2 || !strings.HasPrefix(got[0], "Example :: First") {
		t.Fatalf("sent=%q", got)
	}
	if snd.to[0].ChatID != -100123 {
		t.Fatalf("target=%+v", snd.to[0])
	}

	if _, err := a.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if n := len(snd.sent()); n != 2 {
		t.Fatalf("second run sent again: %d messages", n)
	}
}

func TestDryRunOverrideSendsNothing(t *testing.T) {
	dry := true
	a, snd := newTestApp(t, baseConfig, WithOverrides(Overrides{DryRun: &dry}))
	addChannel(t, a, domain.Channel{URL: "https://www.youtube.com/@example"})

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(snd.sent()) != 0 {
		t.Fatalf("dry run sent %q", snd.sent())
	}
	if !res[0].DryRun {
		t.Fatalf("result not marked dry run: %+v", res[0])
	}
	set, err := a.Channels().State(context.Background(), res[0].ChannelID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if set.HasRun || len(set.Items) != 0 {
		t.Fatalf("dry run committed state: %+v", set)
	}
}

func TestLiveRunAfterDryRunSendsEverything(t *testing.T) {
	t.Setenv(config.EnvToken, "")
	body := strings.Replace(baseConfig, "driver: memory", "driver: file\n  path: state", 1)
	path := writeConfig(t, body)
	items := make([]domain.Item, 5)
	for i := range items {
		id := "v" + string(rune('1'+i))
		items[i] = domain.Item{ID: id, Title: "Video " + id, URL: "https://www.youtube.com/watch?v=" + id, ChannelName: "Example"}
	}
	prov := fakeProvider{items: items}
	ctx := context.Background()

	dry := true
	drySnd := &fakeSender{}
	a, err := New(path, WithSender(drySnd), WithProvider(prov), WithOverrides(Overrides{DryRun: &dry}))
	if err != nil {
		t.Fatalf("New (dry): %v", err)
	}
	ch := addChannel(t, a, domain.Channel{URL: "https://www.youtube.com/@example", Count: 5})
	if _, err := a.RunOnce(ctx); err != nil {
		t.Fatalf("dry RunOnce: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(drySnd.sent()) != 0 {
		t.Fatalf("dry run sent %q", drySnd.sent())
	}

	snd := &fakeSender{}
	b, err := New(path, WithSender(snd), WithProvider(prov))
	if err != nil {
		t.Fatalf("New (live): %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	res, err := b.RunOnce(ctx)
	if err != nil {
		t.Fatalf("live RunOnce: %v", err)
	}
	if len(res) != 1 || res[0].Dispatched != 5 || res[0].AlreadyNotified != 0 || len(snd.sent()) != 5 {
		t.Fatalf("live pass after dry run = %+v, sent %d", res, len(snd.sent()))
	}
	set, err := b.Channels().State(ctx, ch.ID)
	if err != nil || len(set.Items) != 5 || !set.HasRun {
		t.Fatalf("state after live pass = %+v, %v", set, err)
	}
}

func TestRunWithoutScheduleRunsOnePass(t *testing.T) {
	a, snd := newTestApp(t, baseConfig)
	addChannel(t, a, domain.Channel{URL: "https://www.youtube.com/@example", Count: 1})

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := snd.sent(); len(got) != 1 {
		t.Fatalf("sent=%q", got)
	}
}

func TestRunRequiresDelivery(t *testing.T) {
	t.Setenv(config.EnvToken, "")
	a, err := New(writeConfig(t, baseConfig), WithProvider(fakeProvider{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if err := a.Run(context.Background()); !errors.Is(err, ErrNoDelivery) {
		t.Fatalf("err=%v, want ErrNoDelivery", err)
	}
}

func TestApplyConfigKeepsOverrides(t *testing.T) {
	dry := true
	a, _ := newTestApp(t, baseConfig, WithOverrides(Overrides{DryRun: &dry}))

	next, err := config.Decode("config.yaml", []byte(baseConfig+`
monitor:
  dry_run: false
  suppress_skip_msgs: true
  workers: 3
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a.applyConfig(next)

	mc := a.Monitor().Config()
	if !mc.DryRun {
		t.Fatalf("override lost on reload")
	}
	if !mc.SuppressSkipMsgs || mc.Workers != 3 {
		t.Fatalf("reload not applied: %+v", mc)
	}
	if !a.Config().Monitor.DryRun {
		t.Fatalf("effective config lost the override")
	}
}
