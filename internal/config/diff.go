package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ytnotify/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe fields for the reload log.
// The bot token is never included; only whether it is set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		ot.APIURL != nt.APIURL || ot.Chat != nt.Chat || ot.ThreadID != nt.ThreadID || ot.RequestTimeout != nt.RequestTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.chat", nt.Chat),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(nt.APIURL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.String("monitor.schedule", newCfg.Monitor.Schedule),
			logx.String("monitor.interval", newCfg.Monitor.Interval),
			logx.Int("monitor.workers", newCfg.Monitor.Workers),
			logx.Bool("monitor.dry_run", newCfg.Monitor.DryRun),
		)
	}

	if !reflect.DeepEqual(oldCfg.Provider, newCfg.Provider) {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.binary", newCfg.Provider.Binary),
			logx.String("provider.min_delay", newCfg.Provider.MinDelay),
			logx.Int("provider.extra_args", len(newCfg.Provider.ExtraArgs)),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
			logx.String("notifier.timeout", newCfg.Notifier.Timeout),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart lists changed sections that hot reload cannot apply.
func RequiresRestart(oldCfg, newCfg *Config) []string {
	var out []string
	if oldCfg == nil || newCfg == nil {
		return out
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		oldCfg.Telegram.RequestTimeout != newCfg.Telegram.RequestTimeout {
		out = append(out, "telegram.token/api_url/request_timeout")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Provider.Binary != newCfg.Provider.Binary || oldCfg.Provider.NoCheckCertificate != newCfg.Provider.NoCheckCertificate ||
		!reflect.DeepEqual(oldCfg.Provider.ExtraArgs, newCfg.Provider.ExtraArgs) ||
		oldCfg.Provider.MinDelay != newCfg.Provider.MinDelay || oldCfg.Provider.Jitter != newCfg.Provider.Jitter {
		out = append(out, "provider")
	}
	return out
}
