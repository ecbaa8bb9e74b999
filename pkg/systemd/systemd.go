// Package systemd reports readiness, status and watchdog pings to systemd (sd_notify).
// Outside a systemd unit (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ytnotify/pkg/logx"
)

type Notifier struct {
	log     logx.Logger
	enabled bool
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:     log.With(logx.String("comp", "systemd")),
		enabled: strings.TrimSpace(os.Getenv("NOTIFY_SOCKET")) != "",
	}
}

// Enabled reports whether the process runs under a unit with Type=notify.
func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

func (n *Notifier) notify(states ...string) {
	if !n.Enabled() {
		return
	}
	if _, err := daemon.SdNotify(false, strings.Join(states, "\n")); err != nil {
		n.log.Debug("sd_notify failed", logx.Err(err))
	}
}

// Ready signals that startup finished.
func (n *Notifier) Ready(status string) {
	if status == "" {
		n.notify(daemon.SdNotifyReady)
		return
	}
	n.notify(daemon.SdNotifyReady, "STATUS="+status)
}

// Status updates the one-line status shown by systemctl status.
func (n *Notifier) Status(status string) { n.notify("STATUS=" + status) }

// Stopping signals that shutdown began.
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx is done.
// It returns immediately when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) {
	if !n.Enabled() {
		return
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
