// Package preset manages named URL rewrite rules and applies them to outbound links.
package preset

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"ytnotify/internal/domain"
	"ytnotify/internal/storage"
	logx "ytnotify/pkg/logx"
)

// Store is the persistence the registry needs: presets plus the channel lookups used by Import.
type Store interface {
	storage.PresetStore
	GetChannel(ctx context.Context, id string) (domain.Channel, error)
	PutChannel(ctx context.Context, ch domain.Channel) error
}

// Source tells where a resolved rule came from.
type Source string

const (
	SourceInline Source = "inline"
	SourcePreset Source = "preset"
)

// Rule is a resolved rewrite rule.
type Rule struct {
	Source      Source
	Preset      string // set when Source == SourcePreset
	Pattern     string
	Replacement string
}

type Registry struct {
	store Store
	log   logx.Logger
	now   func() time.Time

	// Compiled patterns keyed by pattern text. Presets themselves are always read from the store.
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

type Option func(*Registry)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store Store, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		store:    store,
		log:      log.With(logx.String("comp", "preset")),
		now:      time.Now,
		compiled: map[string]*regexp.Regexp{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Exists reports whether a preset with this name is stored.
func (r *Registry) Exists(ctx context.Context, name string) bool {
	_, err := r.store.GetPreset(ctx, name)
	return err == nil
}

// Resolve picks the rule that applies to ch. An inline pattern wins over a preset reference.
// ok is false when the channel has no rewrite configured.
func (r *Registry) Resolve(ctx context.Context, ch domain.Channel) (Rule, bool, error) {
	rw := ch.Rewrite
	if rw.HasInline() {
		return Rule{Source: SourceInline, Pattern: rw.Pattern, Replacement: rw.Replacement}, true, nil
	}
	if !rw.HasPreset() {
		return Rule{}, false, nil
	}
	p, err := r.store.GetPreset(ctx, rw.Preset)
	if err != nil {
		return Rule{}, false, fmt.Errorf("resolve rewrite for channel %s: %w", ch.ID, err)
	}
	return Rule{Source: SourcePreset, Preset: p.Name, Pattern: p.Pattern, Replacement: p.Replacement}, true, nil
}

// Rewrite applies rule to url in a single pass. A non-matching pattern leaves url unchanged.
func (r *Registry) Rewrite(url string, rule Rule) (string, error) {
	if rule.Pattern == "" {
		return url, nil
	}
	re, err := r.compile(rule.Pattern)
	if err != nil {
		return url, err
	}
	if !re.MatchString(url) {
		return url, nil
	}
	return re.ReplaceAllString(url, NormalizeReplacement(rule.Replacement)), nil
}

// RewriteFor resolves the rule for ch and applies it.
func (r *Registry) RewriteFor(ctx context.Context, ch domain.Channel, url string) (string, error) {
	rule, ok, err := r.Resolve(ctx, ch)
	if err != nil || !ok {
		return url, err
	}
	return r.Rewrite(url, rule)
}

func (r *Registry) compile(pattern string) (*regexp.Regexp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &domain.RegexCompileError{Field: "pattern", Pattern: pattern, Err: err}
	}
	r.compiled[pattern] = re
	return re, nil
}

var (
	pyGroupRe = regexp.MustCompile(`\\(\d+)`)
	pyNamedRe = regexp.MustCompile(`\\g<(\w+)>`)
)

// NormalizeReplacement accepts both Go ($1, ${name}) and backslash (\1, \g<name>) group references.
func NormalizeReplacement(repl string) string {
	if !strings.Contains(repl, `\`) {
		return repl
	}
	repl = pyNamedRe.ReplaceAllString(repl, `$${$1}`)
	return pyGroupRe.ReplaceAllString(repl, `$${$1}`)
}

// ---- CRUD ----

func (r *Registry) List(ctx context.Context) ([]domain.Preset, error) {
	return r.store.ListPresets(ctx)
}

func (r *Registry) Get(ctx context.Context, name string) (domain.Preset, error) {
	return r.store.GetPreset(ctx, strings.TrimSpace(name))
}

// Add validates and stores a new preset. Duplicate names fail with domain.ErrPresetExists.
func (r *Registry) Add(ctx context.Context, p domain.Preset) (domain.Preset, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := domain.ValidatePreset(p); err != nil {
		return domain.Preset{}, err
	}
	now := r.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := r.store.CreatePreset(ctx, p); err != nil {
		return domain.Preset{}, err
	}
	r.log.Info("preset added", logx.String("preset", p.Name))
	return p, nil
}

// Edit replaces pattern and replacement in place. Channels referencing the preset see the change on their next pass.
func (r *Registry) Edit(ctx context.Context, p domain.Preset) (domain.Preset, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := domain.ValidatePreset(p); err != nil {
		return domain.Preset{}, err
	}
	cur, err := r.store.GetPreset(ctx, p.Name)
	if err != nil {
		return domain.Preset{}, err
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = r.now().UTC()
	if err := r.store.UpdatePreset(ctx, p); err != nil {
		return domain.Preset{}, err
	}
	r.log.Info("preset edited", logx.String("preset", p.Name))
	return p, nil
}

// Delete removes a preset. It is refused with *domain.PresetInUseError while channels reference it.
func (r *Registry) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := r.store.DeletePreset(ctx, name); err != nil {
		return err
	}
	r.log.Info("preset deleted", logx.String("preset", name))
	return nil
}

// Import copies the preset's pattern and replacement into the channel's inline rule and
// clears the reference. Later edits of the preset do not reach the channel.
func (r *Registry) Import(ctx context.Context, presetName, channelID string) (domain.Channel, error) {
	p, err := r.store.GetPreset(ctx, strings.TrimSpace(presetName))
	if err != nil {
		return domain.Channel{}, err
	}
	ch, err := r.store.GetChannel(ctx, channelID)
	if err != nil {
		return domain.Channel{}, err
	}
	ch.Rewrite = domain.Rewrite{Pattern: p.Pattern, Replacement: p.Replacement}
	ch.UpdatedAt = r.now().UTC()
	if err := r.store.PutChannel(ctx, ch); err != nil {
		return domain.Channel{}, err
	}
	r.log.Info("preset imported", logx.String("preset", p.Name), logx.String("channel", ch.ID))
	return ch, nil
}
