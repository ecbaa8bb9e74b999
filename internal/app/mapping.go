package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ytnotify/internal/config"
	"ytnotify/internal/monitor"
	"ytnotify/internal/notifier"
	"ytnotify/internal/provider"
	"ytnotify/internal/provider/ytdlp"
	"ytnotify/internal/scheduler"
	"ytnotify/internal/storage"
	kit "ytnotify/internal/transport"
	telegram "ytnotify/internal/transport/telegram/adapter"
	logx "ytnotify/pkg/logx"
)

// Overrides are command-line knobs that win over the file, on load and on every reload.
type Overrides struct {
	DryRun           *bool
	SuppressSkipMsgs *bool
	// IntervalHours replaces monitor.schedule and monitor.interval. 0 means a single pass.
	IntervalHours *float64
	// Once runs a single pass even when a schedule is configured.
	Once bool
}

func (o Overrides) apply(cfg *config.Config) *config.Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	if o.DryRun != nil {
		c.Monitor.DryRun = *o.DryRun
	}
	if o.SuppressSkipMsgs != nil {
		c.Monitor.SuppressSkipMsgs = *o.SuppressSkipMsgs
	}
	if o.IntervalHours != nil {
		c.Monitor.Schedule = ""
		c.Monitor.Interval = ""
		c.Monitor.IntervalHours = *o.IntervalHours
	}
	return &c
}

// telegramToken returns telegram.token, falling back to the environment.
func telegramToken(cfg *config.Config) string {
	if t := strings.TrimSpace(cfg.Telegram.Token); t != "" {
		return t
	}
	return strings.TrimSpace(os.Getenv(config.EnvToken))
}

// mapTelegram returns the adapter config; ok is false when no token is available.
func mapTelegram(cfg *config.Config) (telegram.Config, bool, error) {
	token := telegramToken(cfg)
	if token == "" {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:          token,
		APIURL:         cfg.Telegram.APIURL,
		RequestTimeout: timeout,
		Offline:        true,
	}, true, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
		Redact: []string{telegramToken(cfg)},
	}
}

// mapLogTarget resolves where warning logs are mirrored; logging.telegram.chat defaults to telegram.chat.
func mapLogTarget(cfg *config.Config) (kit.ChatTarget, error) {
	lt := cfg.Logging.Telegram
	if strings.TrimSpace(lt.Chat) != "" {
		return config.ParseChat(lt.Chat, lt.ThreadID)
	}
	thread := lt.ThreadID
	if thread == 0 {
		thread = cfg.Telegram.ThreadID
	}
	return config.ParseChat(cfg.Telegram.Chat, thread)
}

// mapStorage resolves storage.path relative to the directory of the config file.
func mapStorage(cfg *config.Config, cfgPath string) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if !storage.ValidDriver(driver) {
		return storage.Config{}, errors.New("unknown storage.driver: " + sc.Driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}

	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "memory", "mem":
		path = ""
	case "file":
		if path == "" {
			path = "ytnotify"
		}
	default:
		if path == "" {
			path = "ytnotify.db"
		}
	}
	if path != "" && !filepath.IsAbs(path) && cfgPath != "" {
		path = filepath.Join(filepath.Dir(cfgPath), path)
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, CompactEvery: sc.CompactEvery}, nil
}

func mapProvider(cfg *config.Config) (ytdlp.Config, provider.PacingConfig, error) {
	p := cfg.Provider
	minDelay, err := config.ParseDurationOrDefault("provider.min_delay", p.MinDelay, 5*time.Second)
	if err != nil {
		return ytdlp.Config{}, provider.PacingConfig{}, err
	}
	jitter, err := config.ParseDurationOrDefault("provider.jitter", p.Jitter, 3*time.Second)
	if err != nil {
		return ytdlp.Config{}, provider.PacingConfig{}, err
	}
	return ytdlp.Config{
			Binary:             p.Binary,
			NoCheckCertificate: p.NoCheckCertificate,
			ExtraArgs:          append([]string(nil), p.ExtraArgs...),
		}, provider.PacingConfig{
			MinDelay: minDelay,
			Jitter:   jitter,
		}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	target, err := config.ParseChat(cfg.Telegram.Chat, cfg.Telegram.ThreadID)
	if err != nil {
		return notifier.Config{}, err
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	// One attempt is bounded by the Bot API request timeout; notifier.timeout bounds the whole send.
	attempt, err := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := n.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		Target:         target,
		RatePerSec:     n.RatePerSec,
		Burst:          n.Burst,
		RetryMax:       retryMax,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
		Timeout:        attempt,
		DisablePreview: n.DisablePreview,
		ParseMode:      n.ParseMode,
	}, nil
}

func mapMonitor(cfg *config.Config) (monitor.Config, error) {
	fetch, err := config.ParseDurationOrDefault("provider.timeout", cfg.Provider.Timeout, 2*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	dispatch, err := config.ParseDurationOrDefault("notifier.timeout", cfg.Notifier.Timeout, time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	commit, err := config.ParseDurationOrDefault("monitor.commit_timeout", cfg.Monitor.CommitTimeout, 10*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Workers:          cfg.Monitor.Workers,
		FetchTimeout:     fetch,
		DispatchTimeout:  dispatch,
		CommitTimeout:    commit,
		DryRun:           cfg.Monitor.DryRun,
		SuppressSkipMsgs: cfg.Monitor.SuppressSkipMsgs,
	}, nil
}

// mapScheduler applies the precedence schedule > interval > interval_hours.
func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	m := cfg.Monitor
	every, err := config.ParseDurationField("monitor.interval", m.Interval)
	if err != nil {
		return scheduler.Config{}, err
	}
	if every == 0 {
		every, err = config.HoursToDuration("monitor.interval_hours", m.IntervalHours)
		if err != nil {
			return scheduler.Config{}, err
		}
	}
	runOnStart := true
	if m.RunOnStart != nil {
		runOnStart = *m.RunOnStart
	}
	sc := scheduler.Config{
		Schedule:   strings.TrimSpace(m.Schedule),
		Interval:   every,
		Timezone:   strings.TrimSpace(m.Timezone),
		RunOnStart: runOnStart,
	}
	if sc.Enabled() {
		if _, err := sc.Parsed(); err != nil {
			return scheduler.Config{}, err
		}
	}
	return sc, nil
}

// checkMappings runs every mapping so a reload is rejected before anything is applied.
func checkMappings(cfg *config.Config) error {
	var errs []error
	if _, err := mapLogTarget(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapProvider(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifier(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapMonitor(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapScheduler(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
