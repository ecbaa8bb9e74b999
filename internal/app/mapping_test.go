package app

import (
	"path/filepath"
	"testing"
	"time"

	"ytnotify/internal/config"
)

func TestMapSchedulerPrecedence(t *testing.T) {
	f := false
	cases := []struct {
		name     string
		mon      config.MonitorConfig
		enabled  bool
		schedule string
		every    time.Duration
		onStart  bool
	}{
		{name: "none", mon: config.MonitorConfig{}, enabled: false, onStart: true},
		{name: "hours", mon: config.MonitorConfig{IntervalHours: 1.5}, enabled: true, every: 90 * time.Minute, onStart: true},
		{name: "interval wins over hours", mon: config.MonitorConfig{Interval: "10m", IntervalHours: 2}, enabled: true, every: 10 * time.Minute, onStart: true},
		{name: "schedule kept", mon: config.MonitorConfig{Schedule: "0 */6 * * *", Interval: "1h"}, enabled: true, schedule: "0 */6 * * *", every: time.Hour, onStart: true},
		{name: "run on start off", mon: config.MonitorConfig{Interval: "1h", RunOnStart: &f}, enabled: true, every: time.Hour, onStart: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := mapScheduler(&config.Config{Monitor: tc.mon})
			if err != nil {
				t.Fatalf("mapScheduler: %v", err)
			}
			if sc.Enabled() != tc.enabled || sc.Schedule != tc.schedule || sc.Interval != tc.every || sc.RunOnStart != tc.onStart {
				t.Fatalf("got %+v", sc)
			}
		})
	}
}

func TestMapSchedulerRejectsBadSchedule(t *testing.T) {
	if _, err := mapScheduler(&config.Config{Monitor: config.MonitorConfig{Schedule: "61 * * * *"}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOverridesApply(t *testing.T) {
	dry, quiet, hours := true, true, 0.0
	base := &config.Config{Monitor: config.MonitorConfig{Schedule: "@daily", Interval: "1h"}}

	got := Overrides{DryRun: &dry, SuppressSkipMsgs: &quiet, IntervalHours: &hours}.apply(base)
	if !got.Monitor.DryRun || !got.Monitor.SuppressSkipMsgs {
		t.Fatalf("flags not applied: %+v", got.Monitor)
	}
	if got.Monitor.Schedule != "" || got.Monitor.Interval != "" {
		t.Fatalf("interval override must clear the file schedule: %+v", got.Monitor)
	}
	if base.Monitor.Schedule != "@daily" {
		t.Fatalf("apply mutated the input")
	}
	sc, err := mapScheduler(got)
	if err != nil || sc.Enabled() {
		t.Fatalf("zero hours must mean a single pass: %+v err=%v", sc, err)
	}
}

func TestMapStorageResolvesRelativePaths(t *testing.T) {
	cfgPath := filepath.Join("/etc", "ytnotify", "config.yaml")
	cases := []struct {
		storage config.StorageConfig
		driver  string
		path    string
	}{
		{config.StorageConfig{}, "sqlite", "/etc/ytnotify/ytnotify.db"},
		{config.StorageConfig{Driver: "file", Path: "state/db"}, "file", "/etc/ytnotify/state/db"},
		{config.StorageConfig{Driver: "sqlite", Path: "/var/lib/ytnotify/state.db"}, "sqlite", "/var/lib/ytnotify/state.db"},
		{config.StorageConfig{Driver: "memory", Path: "ignored"}, "memory", ""},
	}
	for _, tc := range cases {
		sc, err := mapStorage(&config.Config{Storage: tc.storage}, cfgPath)
		if err != nil {
			t.Fatalf("mapStorage(%+v): %v", tc.storage, err)
		}
		if sc.Driver != tc.driver || sc.Path != tc.path {
			t.Fatalf("mapStorage(%+v) = %+v", tc.storage, sc)
		}
	}
}

func TestMapNotifierAndLogTarget(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Chat: "@news", ThreadID: 7},
		Logging:  config.LoggingConfig{Telegram: config.LoggingTelegramConfig{Chat: "-1009"}},
	}
	nc, err := mapNotifier(cfg)
	if err != nil {
		t.Fatalf("mapNotifier: %v", err)
	}
	if nc.Target.Username != "@news" || nc.Target.ThreadID != 7 || nc.RetryMax != 3 || nc.Timeout != 15*time.Second {
		t.Fatalf("notifier=%+v", nc)
	}
	lt, err := mapLogTarget(cfg)
	if err != nil || lt.ChatID != -1009 {
		t.Fatalf("log target=%+v err=%v", lt, err)
	}

	cfg.Logging.Telegram.Chat = ""
	lt, _ = mapLogTarget(cfg)
	if lt.Username != "@news" || lt.ThreadID != 7 {
		t.Fatalf("log target should default to telegram.chat: %+v", lt)
	}
}

func TestMapTelegramUsesEnvToken(t *testing.T) {
	t.Setenv(config.EnvToken, "123:abc")
	tc, ok, err := mapTelegram(&config.Config{})
	if err != nil || !ok || tc.Token != "123:abc" || !tc.Offline {
		t.Fatalf("got %+v ok=%v err=%v", tc, ok, err)
	}
	if lc := mapLogging(&config.Config{}); len(lc.Redact) != 1 || lc.Redact[0] != "123:abc" {
		t.Fatalf("env token should be redacted from logs: %v", lc.Redact)
	}

	t.Setenv(config.EnvToken, "")
	if _, ok, _ := mapTelegram(&config.Config{}); ok {
		t.Fatalf("no token must mean no adapter")
	}
}
