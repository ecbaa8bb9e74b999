package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ytnotify/internal/domain"
	"ytnotify/internal/preset"
	"ytnotify/internal/storage"
	logx "ytnotify/pkg/logx"
)

type auditStore struct {
	storage.Store
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *auditStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *auditStore) last() storage.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return storage.AuditEntry{}
	}
	return s.entries[len(s.entries)-1]
}

type stubProvider struct {
	items []domain.Item
	err   error
	calls int
}

func (p *stubProvider) FetchRecent(ctx context.Context, url string, count int) ([]domain.Item, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.items, nil
}

var fixed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, prov *stubProvider) (*Service, *auditStore, *preset.Registry) {
	t.Helper()
	st := &auditStore{Store: storage.NewMemory()}
	t.Cleanup(func() { _ = st.Close() })
	reg := preset.New(st, logx.Nop(), preset.WithClock(func() time.Time { return fixed }))
	seq := 0
	svc := New(st, reg, prov, logx.Nop(),
		WithClock(func() time.Time { return fixed }),
		WithIDFunc(func() (string, error) {
			seq++
			return fmt.Sprintf("ch-%d", seq), nil
		}),
	)
	return svc, st, reg
}

func items(n int) []domain.Item {
	out := make([]domain.Item, n)
	for i := range out {
		id := fmt.Sprintf("v%d", i+1)
		out[i] = domain.Item{ID: id, Title: "Episode " + id, URL: "https://www.youtube.com/watch?v=" + id, Length: domain.IntPtr(60 * (i + 1))}
	}
	return out
}

func TestDraftPreviewsWithoutWriting(t *testing.T) {
	prov := &stubProvider{items: items(6)}
	svc, st, _ := newService(t, prov)
	ctx := context.Background()

	d, err := svc.Draft(ctx, domain.Channel{URL: " https://yt.test/@a ", Count: 3, MinLengthSeconds: domain.IntPtr(120)})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if d.Existing || d.Channel.URL != "https://yt.test/@a" {
		t.Fatalf("draft = %+v", d)
	}
	if len(d.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(d.Rows))
	}
	if d.Rows[0].Decision.Qualifies || !d.Rows[1].Decision.Qualifies {
		t.Fatalf("unexpected decisions: %+v", d.Rows)
	}
	if chs, _ := st.ListChannels(ctx); len(chs) != 0 {
		t.Fatalf("draft wrote %d channels", len(chs))
	}
}

func TestDraftRejectsInvalidBeforeFetching(t *testing.T) {
	prov := &stubProvider{items: items(1)}
	svc, _, _ := newService(t, prov)

	_, err := svc.Draft(context.Background(), domain.Channel{
		URL:              "ftp://nope",
		MinLengthSeconds: domain.IntPtr(10),
		MaxLengthSeconds: domain.IntPtr(5),
		Rewrite:          domain.Rewrite{Preset: "missing"},
	})
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) || !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
	if len(verrs) != 3 {
		t.Fatalf("want 3 field errors, got %v", verrs)
	}
	if prov.calls != 0 {
		t.Fatal("invalid config must not reach the provider")
	}
}

func TestDraftProviderFailure(t *testing.T) {
	prov := &stubProvider{err: fmt.Errorf("%w: offline", domain.ErrProviderUnavailable)}
	svc, _, _ := newService(t, prov)
	if _, err := svc.Draft(context.Background(), domain.Channel{URL: "https://yt.test/@a"}); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestCommitAddThenEdit(t *testing.T) {
	svc, st, _ := newService(t, &stubProvider{})
	ctx := context.Background()

	ch, err := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@a"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if ch.ID != "ch-1" || ch.Count != domain.DefaultCount || !ch.CreatedAt.Equal(fixed) {
		t.Fatalf("added = %+v", ch)
	}
	if e := st.last(); e.Action != "channel.add" || e.Target != "ch-1" || !e.OK {
		t.Fatalf("audit = %+v", e)
	}

	if err := st.MarkNotified(ctx, ch.ID, "v1", fixed); err != nil {
		t.Fatal(err)
	}
	ch.Name = "Renamed"
	ch.CreatedAt = time.Time{}
	edited, err := svc.Commit(ctx, ch)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Name != "Renamed" || !edited.CreatedAt.Equal(fixed) {
		t.Fatalf("edited = %+v", edited)
	}
	set, _ := st.NotifiedSet(ctx, ch.ID)
	if !set.Contains("v1") {
		t.Fatal("edit must keep notification state")
	}
	if e := st.last(); e.Action != "channel.edit" {
		t.Fatalf("audit = %+v", e)
	}
}

func TestCommitRejectsDuplicateURL(t *testing.T) {
	svc, st, _ := newService(t, &stubProvider{})
	ctx := context.Background()
	if _, err := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@a"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@A"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v", err)
	}
	if e := st.last(); e.OK || e.Action != "channel.add" || e.Error == "" {
		t.Fatalf("failed add must be audited, got %+v", e)
	}
}

func TestCommitUnknownID(t *testing.T) {
	svc, _, _ := newService(t, &stubProvider{})
	if _, err := svc.Commit(context.Background(), domain.Channel{ID: "ghost", URL: "https://yt.test/@a"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetByPrefixAndURL(t *testing.T) {
	svc, _, _ := newService(t, &stubProvider{})
	ctx := context.Background()
	a, _ := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@a"})
	b, _ := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@b"})

	if got, err := svc.Get(ctx, b.URL); err != nil || got.ID != b.ID {
		t.Fatalf("by url = %+v, %v", got, err)
	}
	if got, err := svc.Get(ctx, a.ID); err != nil || got.ID != a.ID {
		t.Fatalf("by id = %+v, %v", got, err)
	}
	if _, err := svc.Get(ctx, "ch-"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ambiguous prefix err = %v", err)
	}
	if _, err := svc.Get(ctx, "zzz"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown err = %v", err)
	}
}

func TestRemoveAndReset(t *testing.T) {
	svc, st, _ := newService(t, &stubProvider{})
	ctx := context.Background()
	ch, _ := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@a"})
	_ = st.MarkNotified(ctx, ch.ID, "v1", fixed)
	_ = st.MarkRun(ctx, ch.ID, fixed)

	if err := svc.Reset(ctx, ch.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	set, _ := svc.State(ctx, ch.ID)
	if set.HasRun || len(set.Items) != 0 {
		t.Fatalf("state after reset = %+v", set)
	}

	if err := svc.Remove(ctx, ch.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := svc.Get(ctx, ch.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removed channel still resolvable: %v", err)
	}
	if e := st.last(); e.Action != "channel.remove" || !e.OK {
		t.Fatalf("audit = %+v", e)
	}
}

func TestPresetLifecycleThroughService(t *testing.T) {
	prov := &stubProvider{items: items(1)}
	svc, st, _ := newService(t, prov)
	ctx := context.Background()

	if _, err := svc.AddPreset(ctx, domain.Preset{Name: "invidious", Pattern: `https://www\.youtube\.com/(.*)`, Replacement: `https://yewtu.be/\1`}); err != nil {
		t.Fatalf("AddPreset: %v", err)
	}
	ch, err := svc.Commit(ctx, domain.Channel{URL: "https://yt.test/@a", Rewrite: domain.Rewrite{Preset: "invidious"}})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, rows, err := svc.PreviewByID(ctx, ch.ID)
	if err != nil {
		t.Fatalf("PreviewByID: %v", err)
	}
	if want := "https://yewtu.be/watch?v=v1"; rows[0].RewrittenURL != want {
		t.Fatalf("rewritten = %q, want %q", rows[0].RewrittenURL, want)
	}

	err = svc.DeletePreset(ctx, "invidious")
	if !errors.Is(err, domain.ErrPresetInUse) {
		t.Fatalf("delete in use err = %v", err)
	}
	if e := st.last(); e.Action != "preset.delete" || e.OK {
		t.Fatalf("audit = %+v", e)
	}

	imported, err := svc.ImportPreset(ctx, "invidious", ch.ID)
	if err != nil {
		t.Fatalf("ImportPreset: %v", err)
	}
	if imported.Rewrite.HasPreset() || imported.Rewrite.Pattern == "" {
		t.Fatalf("import should copy by value, got %+v", imported.Rewrite)
	}
	if err := svc.DeletePreset(ctx, "invidious"); err != nil {
		t.Fatalf("delete after import: %v", err)
	}
}
