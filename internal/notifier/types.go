package notifier

import (
	"time"

	kit "ytnotify/internal/transport"
)

// Config controls delivery.
type Config struct {
	Target         kit.ChatTarget
	RatePerSec     float64
	Burst          int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	Timeout        time.Duration // per attempt
	DisablePreview bool
	ParseMode      string
}

type HistoryItem struct {
	At   time.Time
	Text string
}
