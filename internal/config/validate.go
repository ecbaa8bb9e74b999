package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ytnotify/internal/scheduler"
	"ytnotify/internal/storage"
	kit "ytnotify/internal/transport"
	logx "ytnotify/pkg/logx"
)

// EnvToken supplies telegram.token when the file leaves it empty.
const EnvToken = "YTNOTIFY_TELEGRAM_TOKEN"

// ParseChat parses a numeric chat id or an "@username" into a target.
func ParseChat(s string, threadID int) (kit.ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return kit.ChatTarget{}, nil
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if id == 0 {
			return kit.ChatTarget{}, fmt.Errorf("chat id must be non-zero")
		}
		return kit.ChatTarget{ChatID: id, ThreadID: threadID}, nil
	}
	name := strings.TrimPrefix(s, "@")
	if name == "" || strings.ContainsAny(name, " \t/") {
		return kit.ChatTarget{}, fmt.Errorf("invalid chat %q (want a numeric id or @username)", s)
	}
	return kit.ChatTarget{Username: "@" + name, ThreadID: threadID}, nil
}

// Validate checks syntax and ranges of every section. It reports all problems at once.
// Whether telegram is required depends on the command and is checked by the caller.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	_, err := ParseChat(cfg.Telegram.Chat, cfg.Telegram.ThreadID)
	add(prefix("telegram.chat", err))
	dur("telegram.request_timeout", cfg.Telegram.RequestTimeout)

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(cfg.Logging.Telegram.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when logging.file.enabled"))
	}
	_, err = ParseChat(cfg.Logging.Telegram.Chat, cfg.Logging.Telegram.ThreadID)
	add(prefix("logging.telegram.chat", err))
	if cfg.Logging.Telegram.RatePerSec < 0 {
		add(errors.New("logging.telegram.rate_per_sec: must be >= 0"))
	}

	if !storage.ValidDriver(cfg.Storage.Driver) {
		add(fmt.Errorf("storage.driver: unknown driver %q (sqlite, file, memory)", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if cfg.Storage.CompactEvery < 0 {
		add(errors.New("storage.compact_every: must be >= 0"))
	}

	m := cfg.Monitor
	if strings.TrimSpace(m.Schedule) != "" {
		_, err := scheduler.Parse(m.Schedule)
		add(prefix("monitor.schedule", err))
	}
	dur("monitor.interval", m.Interval)
	_, err = HoursToDuration("monitor.interval_hours", m.IntervalHours)
	add(err)
	if m.Workers < 0 {
		add(errors.New("monitor.workers: must be >= 0"))
	}
	dur("monitor.commit_timeout", m.CommitTimeout)

	dur("provider.timeout", cfg.Provider.Timeout)
	dur("provider.min_delay", cfg.Provider.MinDelay)
	dur("provider.jitter", cfg.Provider.Jitter)

	n := cfg.Notifier
	if n.RatePerSec < 0 || n.Burst < 0 || n.RetryMax < 0 {
		add(errors.New("notifier: rate_per_sec, burst and retry_max must be >= 0"))
	}
	dur("notifier.retry_base", n.RetryBase)
	dur("notifier.retry_max_delay", n.RetryMaxDelay)
	dur("notifier.timeout", n.Timeout)
	switch strings.ToUpper(strings.TrimSpace(n.ParseMode)) {
	case "", "HTML", "MARKDOWN", "MARKDOWNV2":
	default:
		add(fmt.Errorf("notifier.parse_mode: unsupported %q", n.ParseMode))
	}

	return errors.Join(errs...)
}

func prefix(path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}
