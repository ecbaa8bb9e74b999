package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ytnotify/internal/domain"
	logx "ytnotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// Pragmas go through the DSN so every pooled connection gets them (foreign keys are per connection).
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?)`,
		fmtTime(e.At), nullStr(e.Actor), e.Action, nullStr(e.Target), boolInt(e.OK), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

// ---- channels ----

func (s *sqliteStore) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT spec FROM channels ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var spec string
		if err := rows.Scan(&spec); err != nil {
			return nil, err
		}
		ch, err := decodeChannel(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// created_at is stored as text; re-sort on the parsed value so both backends agree.
	sortChannels(out)
	return out, nil
}

func (s *sqliteStore) GetChannel(ctx context.Context, id string) (domain.Channel, error) {
	var spec string
	err := s.db.QueryRowContext(ctx, `SELECT spec FROM channels WHERE id = ?`, id).Scan(&spec)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, fmt.Errorf("channel %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Channel{}, err
	}
	return decodeChannel(spec)
}

func (s *sqliteStore) PutChannel(ctx context.Context, ch domain.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("channel id is required")
	}
	spec, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	var preset any
	if ch.Rewrite.HasPreset() {
		preset = ch.Rewrite.Preset
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channels(id, url, name, preset, spec, created_at, updated_at) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET url=excluded.url, name=excluded.name, preset=excluded.preset,
		   spec=excluded.spec, updated_at=excluded.updated_at`,
		ch.ID, ch.URL, nullStr(ch.Name), preset, string(spec), fmtTime(ch.CreatedAt), fmtTime(ch.UpdatedAt),
	)
	if isForeignKeyErr(err) {
		return fmt.Errorf("preset %q: %w", ch.Rewrite.Preset, domain.ErrNotFound)
	}
	return err
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("channel %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ---- presets ----

func (s *sqliteStore) ListPresets(ctx context.Context) ([]domain.Preset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, pattern, replacement, created_at, updated_at FROM presets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetPreset(ctx context.Context, name string) (domain.Preset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, pattern, replacement, created_at, updated_at FROM presets WHERE name = ?`, name)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Preset{}, fmt.Errorf("preset %q: %w", name, domain.ErrNotFound)
	}
	return p, err
}

func (s *sqliteStore) CreatePreset(ctx context.Context, p domain.Preset) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO presets(name, pattern, replacement, created_at, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO NOTHING`,
		p.Name, p.Pattern, p.Replacement, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("preset %q: %w", p.Name, domain.ErrPresetExists)
	}
	return nil
}

func (s *sqliteStore) UpdatePreset(ctx context.Context, p domain.Preset) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE presets SET pattern = ?, replacement = ?, updated_at = ? WHERE name = ?`,
		p.Pattern, p.Replacement, fmtTime(p.UpdatedAt), p.Name,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("preset %q: %w", p.Name, domain.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeletePreset(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM channels WHERE preset = ? ORDER BY id`, name)
	if err != nil {
		return err
	}
	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		users = append(users, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(users) > 0 {
		return &domain.PresetInUseError{Name: name, Channels: users}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM presets WHERE name = ?`, name)
	if isForeignKeyErr(err) {
		return &domain.PresetInUseError{Name: name}
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("preset %q: %w", name, domain.ErrNotFound)
	}
	return tx.Commit()
}

// ---- notification state ----

func (s *sqliteStore) IsNotified(ctx context.Context, channelID, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM notified WHERE channel_id = ? AND item_id = ?`, channelID, itemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkNotified(ctx context.Context, channelID, itemID string, at time.Time) error {
	if strings.TrimSpace(itemID) == "" {
		return errors.New("item id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notified(channel_id, item_id, notified_at) VALUES(?,?,?)
		 ON CONFLICT(channel_id, item_id) DO NOTHING`,
		channelID, itemID, fmtTime(at),
	)
	if isForeignKeyErr(err) {
		return fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
	}
	return err
}

func (s *sqliteStore) MarkRun(ctx context.Context, channelID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_state(channel_id, has_run, last_run_at) VALUES(?,1,?)
		 ON CONFLICT(channel_id) DO UPDATE SET has_run=1, last_run_at=excluded.last_run_at`,
		channelID, fmtTime(at),
	)
	if isForeignKeyErr(err) {
		return fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
	}
	return err
}

func (s *sqliteStore) Reset(ctx context.Context, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, channelID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("channel %q: %w", channelID, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notified WHERE channel_id = ?`, channelID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_state WHERE channel_id = ?`, channelID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) NotifiedSet(ctx context.Context, channelID string) (domain.NotifiedSet, error) {
	out := domain.NotifiedSet{ChannelID: channelID, Items: map[string]time.Time{}}

	var hasRun int
	var lastRun sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT has_run, last_run_at FROM channel_state WHERE channel_id = ?`, channelID).Scan(&hasRun, &lastRun)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return out, err
	default:
		out.HasRun = hasRun != 0
		if lastRun.Valid {
			t, err := parseTime(lastRun.String)
			if err != nil {
				return out, err
			}
			out.LastRunAt = t
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT item_id, notified_at FROM notified WHERE channel_id = ?`, channelID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return out, err
		}
		t, err := parseTime(at)
		if err != nil {
			return out, err
		}
		out.Items[id] = t
	}
	return out, rows.Err()
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreset(r rowScanner) (domain.Preset, error) {
	var p domain.Preset
	var created, updated string
	if err := r.Scan(&p.Name, &p.Pattern, &p.Replacement, &created, &updated); err != nil {
		return domain.Preset{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return domain.Preset{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Preset{}, err
	}
	return p, nil
}

func decodeChannel(spec string) (domain.Channel, error) {
	var ch domain.Channel
	if err := json.Unmarshal([]byte(spec), &ch); err != nil {
		return domain.Channel{}, fmt.Errorf("channel row: %w: %v", domain.ErrStateCorrupt, err)
	}
	return ch, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w: %v", s, domain.ErrStateCorrupt, err)
	}
	return t, nil
}

func isForeignKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
