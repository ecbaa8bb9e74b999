package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ytnotify/internal/domain"
	"ytnotify/internal/preview"
	"ytnotify/internal/provider"
	"ytnotify/internal/storage"
	logx "ytnotify/pkg/logx"
)

// Store is the persistence the service needs.
type Store interface {
	storage.ChannelStore
	Reset(ctx context.Context, channelID string) error
	NotifiedSet(ctx context.Context, channelID string) (domain.NotifiedSet, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Presets is the preset registry as seen by the config surface.
type Presets interface {
	Exists(ctx context.Context, name string) bool
	RewriteFor(ctx context.Context, ch domain.Channel, url string) (string, error)
	Add(ctx context.Context, p domain.Preset) (domain.Preset, error)
	Edit(ctx context.Context, p domain.Preset) (domain.Preset, error)
	Delete(ctx context.Context, name string) error
	Import(ctx context.Context, presetName, channelID string) (domain.Channel, error)
}

// Draft is a validated channel plus the preview the operator confirms before Commit.
type Draft struct {
	Channel domain.Channel
	// Rows covers the Count most recent items in provider order.
	Rows []preview.Row
	// Existing is true when the draft edits a stored channel.
	Existing bool
}

type Service struct {
	store   Store
	presets Presets
	prov    provider.Provider
	log     logx.Logger

	actor string
	now   func() time.Time
	newID func() (string, error)
}

type Option func(*Service)

// WithActor names who performs changes in audit entries (default: "cli").
func WithActor(actor string) Option {
	return func(s *Service) {
		if a := strings.TrimSpace(actor); a != "" {
			s.actor = a
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDFunc overrides channel id generation.
func WithIDFunc(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(store Store, presets Presets, prov provider.Provider, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		presets: presets,
		prov:    prov,
		log:     log.With(logx.String("comp", "channels")),
		actor:   "cli",
		now:     time.Now,
		newID:   newChannelID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newChannelID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Validate normalizes ch and checks it, including the preset reference.
func (s *Service) Validate(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ch = ch.Normalize()
	return ch, domain.ValidateChannel(ch, func(name string) bool { return s.presets.Exists(ctx, name) })
}

// Draft validates ch and previews it against live provider data. Nothing is written.
// A channel with an ID must already exist.
func (s *Service) Draft(ctx context.Context, ch domain.Channel) (Draft, error) {
	ch, err := s.Validate(ctx, ch)
	if err != nil {
		return Draft{}, err
	}
	d := Draft{Channel: ch}
	if ch.ID != "" {
		if _, err := s.store.GetChannel(ctx, ch.ID); err != nil {
			return Draft{}, fmt.Errorf("channel %s: %w", ch.ID, err)
		}
		d.Existing = true
	}
	rows, err := s.Preview(ctx, ch)
	if err != nil {
		return Draft{}, err
	}
	d.Rows = rows
	return d, nil
}

// Preview fetches the Count most recent items of ch and evaluates them exactly as a pass would.
func (s *Service) Preview(ctx context.Context, ch domain.Channel) ([]preview.Row, error) {
	if s.prov == nil {
		return nil, fmt.Errorf("preview: %w: no provider configured", domain.ErrProviderUnavailable)
	}
	items, err := s.prov.FetchRecent(ctx, ch.URL, ch.Count)
	if err != nil {
		return nil, err
	}
	return preview.Build(ctx, s.presets, ch, items)
}

// PreviewByID previews a stored channel.
func (s *Service) PreviewByID(ctx context.Context, id string) (domain.Channel, []preview.Row, error) {
	ch, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return domain.Channel{}, nil, err
	}
	rows, err := s.Preview(ctx, ch)
	return ch, rows, err
}

// Commit persists a confirmed channel. Channels without an ID are added with a fresh id and
// empty notification state; channels with an ID replace the stored config and keep their state.
func (s *Service) Commit(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ch, err := s.Validate(ctx, ch)
	if err != nil {
		return domain.Channel{}, err
	}
	now := s.now().UTC()
	if ch.ID == "" {
		out, err := s.add(ctx, ch, now)
		s.audit(ctx, "channel.add", out.ID, err, map[string]any{"url": ch.URL})
		return out, err
	}
	out, err := s.edit(ctx, ch, now)
	s.audit(ctx, "channel.edit", ch.ID, err, map[string]any{"url": ch.URL})
	return out, err
}

func (s *Service) add(ctx context.Context, ch domain.Channel, now time.Time) (domain.Channel, error) {
	existing, err := s.store.ListChannels(ctx)
	if err != nil {
		return domain.Channel{}, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.URL, ch.URL) {
			return domain.Channel{}, fmt.Errorf("channel %s already monitors %s: %w", e.ID, ch.URL, domain.ErrConflict)
		}
	}
	id, err := s.newID()
	if err != nil {
		return domain.Channel{}, fmt.Errorf("generate channel id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt, ch.UpdatedAt = now, now
	if err := s.store.PutChannel(ctx, ch); err != nil {
		return domain.Channel{}, err
	}
	// A re-added URL starts with a clean history.
	if err := s.store.Reset(ctx, ch.ID); err != nil {
		return domain.Channel{}, fmt.Errorf("reset state: %w", err)
	}
	s.log.Info("channel added", logx.String("channel", ch.ID), logx.String("url", ch.URL))
	return ch, nil
}

func (s *Service) edit(ctx context.Context, ch domain.Channel, now time.Time) (domain.Channel, error) {
	cur, err := s.store.GetChannel(ctx, ch.ID)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	ch.CreatedAt = cur.CreatedAt
	ch.UpdatedAt = now
	if err := s.store.PutChannel(ctx, ch); err != nil {
		return domain.Channel{}, err
	}
	s.log.Info("channel updated", logx.String("channel", ch.ID), logx.String("url", ch.URL))
	return ch, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Channel, error) {
	return s.store.ListChannels(ctx)
}

// Get resolves a channel by id, by unique id prefix or by exact URL.
func (s *Service) Get(ctx context.Context, ref string) (domain.Channel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Channel{}, fmt.Errorf("channel reference required: %w", domain.ErrNotFound)
	}
	if ch, err := s.store.GetChannel(ctx, ref); err == nil {
		return ch, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Channel{}, err
	}
	all, err := s.store.ListChannels(ctx)
	if err != nil {
		return domain.Channel{}, err
	}
	var hits []domain.Channel
	for _, ch := range all {
		if ch.URL == ref || strings.HasPrefix(ch.ID, ref) {
			hits = append(hits, ch)
		}
	}
	switch len(hits) {
	case 0:
		return domain.Channel{}, fmt.Errorf("channel %q: %w", ref, domain.ErrNotFound)
	case 1:
		return hits[0], nil
	default:
		return domain.Channel{}, fmt.Errorf("channel %q matches %d channels: %w", ref, len(hits), domain.ErrConflict)
	}
}

// State returns the notification history of a channel.
func (s *Service) State(ctx context.Context, id string) (domain.NotifiedSet, error) {
	return s.store.NotifiedSet(ctx, id)
}

// Remove deletes the channel and its notification state.
func (s *Service) Remove(ctx context.Context, id string) error {
	err := s.store.DeleteChannel(ctx, id)
	s.audit(ctx, "channel.remove", id, err, nil)
	if err == nil {
		s.log.Info("channel removed", logx.String("channel", id))
	}
	return err
}

// Reset clears the notification history; the next pass behaves like a first run.
func (s *Service) Reset(ctx context.Context, id string) error {
	err := s.store.Reset(ctx, id)
	s.audit(ctx, "channel.reset", id, err, nil)
	if err == nil {
		s.log.Info("channel state reset", logx.String("channel", id))
	}
	return err
}

func (s *Service) AddPreset(ctx context.Context, p domain.Preset) (domain.Preset, error) {
	out, err := s.presets.Add(ctx, p)
	s.audit(ctx, "preset.add", p.Name, err, map[string]any{"pattern": p.Pattern})
	return out, err
}

func (s *Service) EditPreset(ctx context.Context, p domain.Preset) (domain.Preset, error) {
	out, err := s.presets.Edit(ctx, p)
	s.audit(ctx, "preset.edit", p.Name, err, map[string]any{"pattern": p.Pattern})
	return out, err
}

func (s *Service) DeletePreset(ctx context.Context, name string) error {
	err := s.presets.Delete(ctx, name)
	s.audit(ctx, "preset.delete", name, err, nil)
	return err
}

// ImportPreset copies a preset into the channel's inline rewrite.
func (s *Service) ImportPreset(ctx context.Context, presetName, channelID string) (domain.Channel, error) {
	ch, err := s.presets.Import(ctx, presetName, channelID)
	s.audit(ctx, "preset.import", channelID, err, map[string]any{"preset": presetName})
	return ch, err
}

func (s *Service) audit(ctx context.Context, action, target string, opErr error, meta map[string]any) {
	e := storage.AuditEntry{
		At:     s.now().UTC(),
		Actor:  s.actor,
		Action: action,
		Target: target,
		OK:     opErr == nil,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	// Audit is best-effort; the change itself already succeeded or failed.
	if err := s.store.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
