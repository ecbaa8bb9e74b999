package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ytnotify/internal/domain"
	logx "ytnotify/pkg/logx"
)

// fileStore keeps the whole state in memory and persists it as a snapshot plus a journal.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.state.snapshot.json  (periodic snapshot)
//   - <prefix>.state.journal.jsonl  (append-only journal of mutations)
//
// The journal is compacted into the snapshot every CompactEvery records and on Close.
// Without a path (NewMemory) nothing touches the disk.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool
	st     fileState

	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File
	writes       int
	compactEvery int
}

type fileState struct {
	Version  int                            `json:"version"`
	Channels map[string]domain.Channel      `json:"channels"`
	Presets  map[string]domain.Preset       `json:"presets"`
	States   map[string]*domain.NotifiedSet `json:"states"`
}

const fileStateVersion = 1

const (
	opChannelPut    = "channel.put"
	opChannelDelete = "channel.delete"
	opPresetPut     = "preset.put"
	opPresetDelete  = "preset.delete"
	opMark          = "state.mark"
	opRun           = "state.run"
	opReset         = "state.reset"
)

type journalRecord struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	ItemID  string          `json:"item,omitempty"`
	At      time.Time       `json:"at,omitempty"`
	Channel *domain.Channel `json:"channel,omitempty"`
	Preset  *domain.Preset  `json:"preset,omitempty"`
}

func newFileState() fileState {
	return fileState{
		Version:  fileStateVersion,
		Channels: map[string]domain.Channel{},
		Presets:  map[string]domain.Preset{},
		States:   map[string]*domain.NotifiedSet{},
	}
}

// NewMemory returns a store that never touches the disk.
func NewMemory() Store {
	return &fileStore{log: logx.Nop(), st: newFileState()}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"

	st := newFileState()
	if err := loadSnapshot(snapPath, &st); err != nil {
		return nil, err
	}
	n, unterminated, err := replayJournal(journalPath, &st)
	if err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = 500
	}
	s := &fileStore{
		log:          log,
		st:           st,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		compactEvery: every,
	}
	if n > 0 || unterminated {
		// Fold the replayed journal right away. An unterminated last line must go
		// before the next append, or the two records would share a line.
		if err := s.compactLocked(); err != nil {
			if unterminated {
				_ = jf.Close()
				_ = af.Close()
				return nil, fmt.Errorf("repair journal tail: %w", err)
			}
			log.Warn("state compact failed", logx.Err(err))
		}
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("replayed", n))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.journalFile != nil {
		if s.writes > 0 {
			errs = append(errs, s.compactLocked())
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.auditFile == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// ---- channels ----

func (s *fileStore) ListChannels(_ context.Context) ([]domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.Channel, 0, len(s.st.Channels))
	for _, ch := range s.st.Channels {
		out = append(out, cloneChannel(ch))
	}
	sortChannels(out)
	return out, nil
}

func (s *fileStore) GetChannel(_ context.Context, id string) (domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Channel{}, ErrClosed
	}
	ch, ok := s.st.Channels[id]
	if !ok {
		return domain.Channel{}, fmt.Errorf("channel %q: %w", id, domain.ErrNotFound)
	}
	return cloneChannel(ch), nil
}

func (s *fileStore) PutChannel(_ context.Context, ch domain.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if ch.Rewrite.HasPreset() {
		if _, ok := s.st.Presets[ch.Rewrite.Preset]; !ok {
			return fmt.Errorf("preset %q: %w", ch.Rewrite.Preset, domain.ErrNotFound)
		}
	}
	c := cloneChannel(ch)
	return s.commitLocked(journalRecord{Op: opChannelPut, ID: ch.ID, Channel: &c})
}

func (s *fileStore) DeleteChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Channels[id]; !ok {
		return fmt.Errorf("channel %q: %w", id, domain.ErrNotFound)
	}
	return s.commitLocked(journalRecord{Op: opChannelDelete, ID: id})
}

// ---- presets ----

func (s *fileStore) ListPresets(_ context.Context) ([]domain.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.Preset, 0, len(s.st.Presets))
	for _, p := range s.st.Presets {
		out = append(out, p)
	}
	sortPresets(out)
	return out, nil
}

func (s *fileStore) GetPreset(_ context.Context, name string) (domain.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Preset{}, ErrClosed
	}
	p, ok := s.st.Presets[name]
	if !ok {
		return domain.Preset{}, fmt.Errorf("preset %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

func (s *fileStore) CreatePreset(_ context.Context, p domain.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Presets[p.Name]; ok {
		return fmt.Errorf("preset %q: %w", p.Name, domain.ErrPresetExists)
	}
	return s.commitLocked(journalRecord{Op: opPresetPut, ID: p.Name, Preset: &p})
}

func (s *fileStore) UpdatePreset(_ context.Context, p domain.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Presets[p.Name]; !ok {
		return fmt.Errorf("preset %q: %w", p.Name, domain.ErrNotFound)
	}
	return s.commitLocked(journalRecord{Op: opPresetPut, ID: p.Name, Preset: &p})
}

func (s *fileStore) DeletePreset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Presets[name]; !ok {
		return fmt.Errorf("preset %q: %w", name, domain.ErrNotFound)
	}
	var users []string
	for id, ch := range s.st.Channels {
		if ch.ReferencesPreset(name) {
			users = append(users, id)
		}
	}
	if len(users) > 0 {
		sortStrings(users)
		return &domain.PresetInUseError{Name: name, Channels: users}
	}
	return s.commitLocked(journalRecord{Op: opPresetDelete, ID: name})
}

// ---- notification state ----

func (s *fileStore) IsNotified(_ context.Context, channelID, itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	set := s.st.States[channelID]
	return set != nil && set.Contains(itemID), nil
}

func (s *fileStore) MarkNotified(_ context.Context, channelID, itemID string, at time.Time) error {
	if strings.TrimSpace(itemID) == "" {
		return errors.New("item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Channels[channelID]; !ok {
		return fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
	}
	if set := s.st.States[channelID]; set != nil && set.Contains(itemID) {
		return nil
	}
	return s.commitLocked(journalRecord{Op: opMark, ID: channelID, ItemID: itemID, At: at.UTC()})
}

func (s *fileStore) MarkRun(_ context.Context, channelID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Channels[channelID]; !ok {
		return fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
	}
	return s.commitLocked(journalRecord{Op: opRun, ID: channelID, At: at.UTC()})
}

func (s *fileStore) Reset(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.st.Channels[channelID]; !ok {
		return fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
	}
	return s.commitLocked(journalRecord{Op: opReset, ID: channelID})
}

func (s *fileStore) NotifiedSet(_ context.Context, channelID string) (domain.NotifiedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NotifiedSet{}, ErrClosed
	}
	out := domain.NotifiedSet{ChannelID: channelID, Items: map[string]time.Time{}}
	if set := s.st.States[channelID]; set != nil {
		out.HasRun = set.HasRun
		out.LastRunAt = set.LastRunAt
		for k, v := range set.Items {
			out.Items[k] = v
		}
	}
	return out, nil
}

// ---- journal ----

// commitLocked appends rec to the journal, then applies it in memory.
func (s *fileStore) commitLocked(rec journalRecord) error {
	if s.journalFile != nil {
		if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
			return err
		}
		s.writes++
	}
	applyRecord(&s.st, rec)
	if s.journalFile != nil && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func applyRecord(st *fileState, rec journalRecord) {
	switch rec.Op {
	case opChannelPut:
		if rec.Channel != nil {
			st.Channels[rec.ID] = *rec.Channel
		}
	case opChannelDelete:
		delete(st.Channels, rec.ID)
		delete(st.States, rec.ID)
	case opPresetPut:
		if rec.Preset != nil {
			st.Presets[rec.ID] = *rec.Preset
		}
	case opPresetDelete:
		delete(st.Presets, rec.ID)
	case opMark:
		set := stateFor(st, rec.ID)
		set.Items[rec.ItemID] = rec.At
	case opRun:
		set := stateFor(st, rec.ID)
		set.HasRun = true
		set.LastRunAt = rec.At
	case opReset:
		delete(st.States, rec.ID)
	}
}

func stateFor(st *fileState, channelID string) *domain.NotifiedSet {
	set := st.States[channelID]
	if set == nil {
		set = &domain.NotifiedSet{ChannelID: channelID}
		st.States[channelID] = set
	}
	if set.Items == nil {
		set.Items = map[string]time.Time{}
	}
	return set
}

func (s *fileStore) compactLocked() error {
	if s.snapshotPath == "" || s.journalFile == nil {
		return nil
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	s.writes = 0
	return err
}

func loadSnapshot(path string, st *fileState) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap fileState
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("%s: %w: %v", path, domain.ErrStateCorrupt, err)
	}
	if snap.Version > fileStateVersion {
		return fmt.Errorf("%s: %w: unsupported version %d", path, domain.ErrStateCorrupt, snap.Version)
	}
	for k, v := range snap.Channels {
		st.Channels[k] = v
	}
	for k, v := range snap.Presets {
		st.Presets[k] = v
	}
	for k, v := range snap.States {
		if v == nil {
			continue
		}
		if v.Items == nil {
			v.Items = map[string]time.Time{}
		}
		st.States[k] = v
	}
	return nil
}

// replayJournal applies every journal record. A malformed record is corruption,
// except for an unterminated last line, which is what a crash mid-write leaves behind.
// unterminated reports such a line, whether or not it parsed.
func replayJournal(path string, st *fileState) (n int, unterminated bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		b, rerr := r.ReadBytes('\n')
		atEOF := errors.Is(rerr, io.EOF)
		if len(bytes.TrimSpace(b)) > 0 {
			if atEOF {
				unterminated = true
			}
			var rec journalRecord
			if err := json.Unmarshal(b, &rec); err != nil || rec.Op == "" {
				if atEOF {
					// torn tail
					return n, true, nil
				}
				return n, unterminated, fmt.Errorf("%s line %d: %w", path, line, domain.ErrStateCorrupt)
			}
			applyRecord(st, rec)
			n++
		}
		if rerr != nil {
			if atEOF {
				return n, unterminated, nil
			}
			return n, unterminated, rerr
		}
	}
}
