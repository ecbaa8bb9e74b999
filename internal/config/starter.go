package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Starter is the file written by `ytnotify config init`.
const Starter = `# ytnotify configuration.
# Channels and presets are stored in the state database; manage them with
# "ytnotify channel ..." and "ytnotify preset ...".

telegram:
  # Leave empty and export YTNOTIFY_TELEGRAM_TOKEN instead to keep the token out of this file.
  token: ""
  # Numeric chat id (-100...) or a public @username.
  chat: ""
  request_timeout: 15s

logging:
  level: info
  console: true
  file:
    enabled: false
    path: ytnotify.log
  telegram:
    enabled: false
    min_level: warn
    rate_per_sec: 1

storage:
  driver: sqlite
  path: ytnotify.db

monitor:
  # Either a cron expression ("0 */6 * * *") or an interval ("6h").
  # With neither set (and no --interval-hours) a single pass runs.
  interval: 6h
  workers: 1
  dry_run: false
  suppress_skip_msgs: false

provider:
  binary: yt-dlp
  timeout: 2m
  min_delay: 5s
  jitter: 3s

notifier:
  rate_per_sec: 1
  retry_max: 3
  retry_base: 1s
  retry_max_delay: 30s
  timeout: 1m
`

// WriteStarter writes Starter to path. An existing file is kept unless force is set.
func WriteStarter(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// The file may end up holding the bot token.
	return os.WriteFile(path, []byte(Starter), 0o600)
}
