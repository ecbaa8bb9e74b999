package config

// Config is the process configuration (config.yaml or config.json).
//
// Channels and presets are not part of this file: they live in the state store and are
// managed through the CLI.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Monitor  MonitorConfig  `json:"monitor"`
	Provider ProviderConfig `json:"provider"`
	Notifier NotifierConfig `json:"notifier"`
}

// TelegramConfig is the bot used for notifications and the optional log sink.
//
// Token may be left empty and supplied through YTNOTIFY_TELEGRAM_TOKEN instead.
type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty"`
	// Chat is a numeric chat id ("-100123...") or a public "@username".
	Chat     string `json:"chat"`
	ThreadID int    `json:"thread_id,omitempty"`
	// RequestTimeout bounds a single Bot API call (Go duration, default "15s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string                `json:"level"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file"`
	Telegram LoggingTelegramConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegramConfig forwards warnings and errors to a Telegram chat.
// Chat defaults to telegram.chat.
type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Chat       string `json:"chat,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the state backend.
//
// Driver: "sqlite" (default), "file" or "memory".
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	CompactEvery int    `json:"compact_every,omitempty"`
}

// MonitorConfig controls runs.
//
// Schedule wins over Interval, Interval wins over IntervalHours. With none of them set a
// single pass runs and the process exits.
type MonitorConfig struct {
	Schedule      string  `json:"schedule,omitempty"`
	Interval      string  `json:"interval,omitempty"`
	IntervalHours float64 `json:"interval_hours,omitempty"`
	Timezone      string  `json:"timezone,omitempty"`
	// RunOnStart runs a pass right away instead of waiting for the first trigger (default true).
	RunOnStart *bool `json:"run_on_start,omitempty"`

	Workers          int  `json:"workers,omitempty"`
	DryRun           bool `json:"dry_run,omitempty"`
	SuppressSkipMsgs bool `json:"suppress_skip_msgs,omitempty"`

	CommitTimeout string `json:"commit_timeout,omitempty"`
}

// ProviderConfig configures yt-dlp.
type ProviderConfig struct {
	Binary             string   `json:"binary,omitempty"`
	NoCheckCertificate bool     `json:"no_check_certificate,omitempty"`
	ExtraArgs          []string `json:"extra_args,omitempty"`
	// Timeout bounds one yt-dlp call (default "2m").
	Timeout string `json:"timeout,omitempty"`
	// MinDelay and Jitter pace consecutive fetches (defaults "5s" and "3s").
	MinDelay string `json:"min_delay,omitempty"`
	Jitter   string `json:"jitter,omitempty"`
}

// NotifierConfig controls delivery to telegram.chat.
type NotifierConfig struct {
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	// Timeout bounds one send including retries (default "1m").
	Timeout        string `json:"timeout,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
}
