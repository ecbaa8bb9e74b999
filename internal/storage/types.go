package storage

import (
	"context"
	"errors"
	"time"

	"ytnotify/internal/domain"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "file": JSON snapshot + journal next to Path
//   - "memory": nothing is written to disk
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// CompactEvery is the number of journal records after which the file backend
	// rewrites its snapshot. 0 means default.
	CompactEvery int
}

// AuditEntry records an operator action (channel/preset changes, resets).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

// ChannelStore persists channel configs.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]domain.Channel, error)
	// GetChannel returns domain.ErrNotFound for unknown ids.
	GetChannel(ctx context.Context, id string) (domain.Channel, error)
	// PutChannel inserts or replaces a channel. A missing preset reference is rejected.
	PutChannel(ctx context.Context, ch domain.Channel) error
	// DeleteChannel removes the channel and its notification state.
	DeleteChannel(ctx context.Context, id string) error
}

// PresetStore persists named rewrite presets.
type PresetStore interface {
	ListPresets(ctx context.Context) ([]domain.Preset, error)
	GetPreset(ctx context.Context, name string) (domain.Preset, error)
	// CreatePreset returns domain.ErrPresetExists when the name is taken.
	CreatePreset(ctx context.Context, p domain.Preset) error
	// UpdatePreset returns domain.ErrNotFound when the name is unknown.
	UpdatePreset(ctx context.Context, p domain.Preset) error
	// DeletePreset returns *domain.PresetInUseError while channels reference it.
	DeletePreset(ctx context.Context, name string) error
}

// StateStore persists which items were notified per channel, plus the has-run flag.
type StateStore interface {
	IsNotified(ctx context.Context, channelID, itemID string) (bool, error)
	MarkNotified(ctx context.Context, channelID, itemID string, at time.Time) error
	// MarkRun sets the has-run flag and the last run time.
	MarkRun(ctx context.Context, channelID string, at time.Time) error
	// Reset clears notified items and the has-run flag.
	Reset(ctx context.Context, channelID string) error
	NotifiedSet(ctx context.Context, channelID string) (domain.NotifiedSet, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	ChannelStore
	PresetStore
	StateStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
