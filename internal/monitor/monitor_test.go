package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ytnotify/internal/domain"
	"ytnotify/internal/eventbus"
	"ytnotify/internal/preset"
	"ytnotify/internal/storage"
	logx "ytnotify/pkg/logx"
)

type fakeProvider struct {
	mu      sync.Mutex
	items   map[string][]domain.Item
	errs    map[string]error
	calls   int
	block   chan struct{} // when set, FetchRecent waits on it
	entered chan struct{}
}

func (f *fakeProvider) FetchRecent(ctx context.Context, url string, count int) ([]domain.Item, error) {
	f.mu.Lock()
	f.calls++
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", url, domain.ErrProviderUnavailable, err)
	}
	return append([]domain.Item(nil), f.items[url]...), nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]bool // substring of text -> fail
	onSend func(text string)
}

func (f *fakeNotifier) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.failOn {
		if strings.Contains(text, k) {
			return fmt.Errorf("%w: boom", domain.ErrDispatch)
		}
	}
	f.sent = append(f.sent, text)
	if f.onSend != nil {
		f.onSend(text)
	}
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func makeItems(prefix string, n int) []domain.Item {
	out := make([]domain.Item, n)
	for i := range out {
		id := fmt.Sprintf("%s%d", prefix, i+1)
		out[i] = domain.Item{
			ID:          id,
			Title:       "Video " + id,
			URL:         "https://www.youtube.com/watch?v=" + id,
			Length:      domain.IntPtr(300),
			ChannelName: "Provider Name",
		}
	}
	return out
}

type harness struct {
	store    storage.Store
	provider *fakeProvider
	notifier *fakeNotifier
	monitor  *Monitor
	bus      eventbus.Bus
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	h := &harness{
		store:    st,
		provider: &fakeProvider{items: map[string][]domain.Item{}, errs: map[string]error{}},
		notifier: &fakeNotifier{failOn: map[string]bool{}},
		bus:      eventbus.New(),
	}
	reg := preset.New(st, logx.Nop())
	h.monitor = New(cfg, st, h.provider, reg, h.notifier, logx.Nop(), h.bus, WithClock(func() time.Time { return now }))
	return h
}

func (h *harness) addChannel(t *testing.T, ch domain.Channel) domain.Channel {
	t.Helper()
	ch = ch.Normalize()
	if err := h.store.PutChannel(context.Background(), ch); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}
	return ch
}

func TestFirstPassNotifiesThenNothingNew(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 5})
	h.provider.items[ch.URL] = makeItems("v", 5)
	ctx := context.Background()

	res := h.monitor.RunPass(ctx, ch)
	if res.Err != nil || res.State != StateDone {
		t.Fatalf("first pass = %+v", res)
	}
	if res.Dispatched != 5 || h.notifier.count() != 5 {
		t.Fatalf("dispatched = %d, sent = %d, want 5", res.Dispatched, h.notifier.count())
	}
	set, _ := h.store.NotifiedSet(ctx, ch.ID)
	if len(set.Items) != 5 || !set.HasRun || !set.LastRunAt.Equal(now) {
		t.Fatalf("notified set after first pass = %+v", set)
	}

	res = h.monitor.RunPass(ctx, ch)
	if res.Err != nil || res.Dispatched != 0 || res.AlreadyNotified != 5 {
		t.Fatalf("second pass = %+v", res)
	}
	if h.notifier.count() != 5 {
		t.Fatalf("second pass sent more messages: %d", h.notifier.count())
	}
}

func TestPassOnlyScansCount(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 3})
	h.provider.items[ch.URL] = makeItems("v", 8)

	res := h.monitor.RunPass(context.Background(), ch)
	if res.Fetched != 3 || res.Dispatched != 3 {
		t.Fatalf("pass = %+v, want 3 fetched and dispatched", res)
	}
}

func TestMessageUsesChannelNameAndRewrite(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{
		ID:    "c1",
		URL:   "https://yt.test/@a",
		Count: 1,
		Rewrite: domain.Rewrite{
			Pattern:     `https://www\.youtube\.com/watch\?v=(.+)`,
			Replacement: `https://yewtu.be/watch?v=\1`,
		},
	})
	h.provider.items[ch.URL] = makeItems("v", 1)

	h.monitor.RunPass(context.Background(), ch)
	want := "Provider Name :: Video v1\n\nhttps://yewtu.be/watch?v=v1"
	if len(h.notifier.sent) != 1 || h.notifier.sent[0] != want {
		t.Fatalf("sent = %q, want %q", h.notifier.sent, want)
	}
}

func TestFilteredItemsAreNotNotified(t *testing.T) {
	h := newHarness(t, Config{SuppressSkipMsgs: true})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 5, TitleInclude: []string{"v2"}})
	h.provider.items[ch.URL] = makeItems("v", 5)
	ctx := context.Background()

	res := h.monitor.RunPass(ctx, ch)
	if res.Qualified != 1 || res.Dispatched != 1 {
		t.Fatalf("pass = %+v", res)
	}
	set, _ := h.store.NotifiedSet(ctx, ch.ID)
	if len(set.Items) != 1 || !set.Contains("v2") {
		t.Fatalf("only the qualifying item may be marked, got %+v", set.Items)
	}
}

func TestDryRunCommitsNothing(t *testing.T) {
	h := newHarness(t, Config{DryRun: true})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 5})
	h.provider.items[ch.URL] = makeItems("v", 5)
	ctx := context.Background()

	res := h.monitor.RunPass(ctx, ch)
	if res.Err != nil || res.State != StateDone || !res.DryRun {
		t.Fatalf("dry pass = %+v", res)
	}
	if h.notifier.count() != 0 || res.Qualified != 5 {
		t.Fatalf("dry run sent %d, qualified %d", h.notifier.count(), res.Qualified)
	}
	set, _ := h.store.NotifiedSet(ctx, ch.ID)
	if set.HasRun || len(set.Items) != 0 {
		t.Fatalf("dry run changed state: %+v", set)
	}

	// A real pass over the same store still sees every item as new.
	live := New(Config{}, h.store, h.provider, preset.New(h.store, logx.Nop()), h.notifier, logx.Nop(), h.bus, WithClock(func() time.Time { return now }))
	res = live.RunPass(ctx, ch)
	if res.Err != nil || res.Dispatched != 5 || res.AlreadyNotified != 0 || h.notifier.count() != 5 {
		t.Fatalf("pass after dry run = %+v, sent %d", res, h.notifier.count())
	}
	set, _ = h.store.NotifiedSet(ctx, ch.ID)
	if !set.HasRun || len(set.Items) != 5 {
		t.Fatalf("pass after dry run marked %d items, has_run=%v", len(set.Items), set.HasRun)
	}
}

func TestRepeatedItemIDIsSentOnce(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 5})
	items := makeItems("v", 3)
	h.provider.items[ch.URL] = []domain.Item{items[0], items[1], items[0], items[2]}
	ctx := context.Background()

	res := h.monitor.RunPass(ctx, ch)
	if res.Err != nil || res.Fetched != 3 || res.Dispatched != 3 || h.notifier.count() != 3 {
		t.Fatalf("pass = %+v, sent %d", res, h.notifier.count())
	}
	for i, text := range h.notifier.sent {
		want := "Video v" + fmt.Sprint(i+1)
		if !strings.Contains(text, want) {
			t.Fatalf("sent[%d] = %q, want %s (recency order)", i, text, want)
		}
	}
}

func TestRepeatedItemIDIsSeededOnce(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 5, FirstRun: domain.FirstRunSeed})
	items := makeItems("v", 2)
	h.provider.items[ch.URL] = []domain.Item{items[0], items[0], items[1]}

	res := h.monitor.RunPass(context.Background(), ch)
	if res.Err != nil || res.Seeded != 2 || h.notifier.count() != 0 {
		t.Fatalf("seed pass = %+v, sent %d", res, h.notifier.count())
	}
}

func TestUniqueRecentKeepsFirstAndCaps(t *testing.T) {
	items := makeItems("v", 4)
	got := uniqueRecent([]domain.Item{items[2], items[0], items[2], items[1], items[3]}, 3)
	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	if strings.Join(ids, ",") != "v3,v1,v2" {
		t.Fatalf("uniqueRecent = %v", ids)
	}
}

func TestDispatchFailureLeavesItemUnmarked(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 3})
	h.provider.items[ch.URL] = makeItems("v", 3)
	h.notifier.failOn["Video v2"] = true
	ctx := context.Background()

	res := h.monitor.RunPass(ctx, ch)
	if res.State != StateFailed || !errors.Is(res.Err, domain.ErrDispatch) {
		t.Fatalf("pass = %+v", res)
	}
	if res.Dispatched != 2 || res.Failed != 1 {
		t.Fatalf("dispatched = %d failed = %d, want 2 and 1", res.Dispatched, res.Failed)
	}
	set, _ := h.store.NotifiedSet(ctx, ch.ID)
	if set.Contains("v2") || !set.Contains("v1") || !set.Contains("v3") {
		t.Fatalf("unexpected marks %+v", set.Items)
	}
	if set.HasRun {
		t.Fatal("a failed pass must not set the has-run flag")
	}

	delete(h.notifier.failOn, "Video v2")
	res = h.monitor.RunPass(ctx, ch)
	if res.Err != nil || res.Dispatched != 1 {
		t.Fatalf("retry pass = %+v", res)
	}
	if last := h.notifier.sent[len(h.notifier.sent)-1]; !strings.Contains(last, "Video v2") {
		t.Fatalf("retry sent %q", last)
	}
}

func TestFirstRunSeedRecordsWithoutSending(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 5, FirstRun: domain.FirstRunSeed})
	h.provider.items[ch.URL] = makeItems("v", 3)
	ctx := context.Background()

	res := h.monitor.RunPass(ctx, ch)
	if res.Err != nil || res.Seeded != 3 || h.notifier.count() != 0 {
		t.Fatalf("seed pass = %+v, sent %d", res, h.notifier.count())
	}

	h.provider.items[ch.URL] = append(makeItems("n", 1), makeItems("v", 3)...)
	res = h.monitor.RunPass(ctx, ch)
	if res.Dispatched != 1 || h.notifier.count() != 1 {
		t.Fatalf("second pass = %+v", res)
	}
}

func TestZeroQualifyingFirstPassSetsHasRun(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", TitleInclude: []string{"nothing matches"}})
	h.provider.items[ch.URL] = makeItems("v", 5)
	ctx := context.Background()

	if res := h.monitor.RunPass(ctx, ch); res.Err != nil || res.Qualified != 0 {
		t.Fatalf("pass = %+v", res)
	}
	set, _ := h.store.NotifiedSet(ctx, ch.ID)
	if !set.HasRun {
		t.Fatal("has-run flag should be set after a clean pass with zero qualifying items")
	}
}

func TestRunAllIsolatesProviderFailures(t *testing.T) {
	h := newHarness(t, Config{Workers: 2})
	bad := h.addChannel(t, domain.Channel{ID: "bad", URL: "https://yt.test/@bad", CreatedAt: now})
	good := h.addChannel(t, domain.Channel{ID: "good", URL: "https://yt.test/@good", CreatedAt: now.Add(time.Second)})
	h.provider.errs[bad.URL] = errors.New("HTTP Error 404")
	h.provider.items[good.URL] = makeItems("g", 2)

	results, err := h.monitor.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ChannelID != "bad" || results[0].State != StateFailed || !errors.Is(results[0].Err, domain.ErrProviderUnavailable) {
		t.Fatalf("bad channel result = %+v", results[0])
	}
	if results[1].State != StateDone || results[1].Dispatched != 2 {
		t.Fatalf("good channel result = %+v", results[1])
	}
}

func TestPassInFlightIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a"})
	h.provider.items[ch.URL] = makeItems("v", 1)
	h.provider.block = make(chan struct{})
	h.provider.entered = make(chan struct{}, 1)

	done := make(chan PassResult, 1)
	go func() { done <- h.monitor.RunPass(context.Background(), ch) }()
	<-h.provider.entered

	res := h.monitor.RunPass(context.Background(), ch)
	if !errors.Is(res.Err, domain.ErrPassInFlight) {
		t.Fatalf("concurrent pass err = %v", res.Err)
	}

	close(h.provider.block)
	if first := <-done; first.Err != nil || first.Dispatched != 1 {
		t.Fatalf("first pass = %+v", first)
	}
}

func TestCancellationCommitsSentItems(t *testing.T) {
	h := newHarness(t, Config{})
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a", Count: 3})
	h.provider.items[ch.URL] = makeItems("v", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel as soon as the first message is out.
	h.notifier.onSend = func(string) { cancel() }

	res := h.monitor.RunPass(ctx, ch)
	if res.State != StateFailed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("pass = %+v", res)
	}
	set, _ := h.store.NotifiedSet(context.Background(), ch.ID)
	if len(set.Items) != 1 || !set.Contains("v1") {
		t.Fatalf("the sent item must be committed, got %+v", set.Items)
	}
}

func TestPassPublishesTransitions(t *testing.T) {
	h := newHarness(t, Config{})
	events, unsub := h.bus.Subscribe(32)
	defer unsub()
	ch := h.addChannel(t, domain.Channel{ID: "c1", URL: "https://yt.test/@a"})
	h.provider.items[ch.URL] = makeItems("v", 1)

	h.monitor.RunPass(context.Background(), ch)

	var states []string
	for len(events) > 0 {
		e := <-events
		if ps, ok := e.Data.(eventbus.PassState); ok {
			states = append(states, ps.To)
		}
	}
	want := []string{"FETCHING", "EVALUATING", "DISPATCHING", "COMMITTING", "DONE"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Fatalf("states = %v, want %v", states, want)
	}
}
