package adapter

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "ytnotify/internal/transport"
	logx "ytnotify/pkg/logx"
)

// Config configures the send-only Telegram adapter.
type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (empty means api.telegram.org).
	APIURL string
	// RequestTimeout bounds a single Bot API call.
	RequestTimeout time.Duration
	// Offline skips the getMe call during construction.
	Offline bool
}

// Adapter delivers notifications through the Telegram Bot API.
// It never polls for updates: ytnotify only sends.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	settings := tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimSpace(cfg.APIURL),
		Offline: cfg.Offline,
		Client:  newHTTPClient(timeout),
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// usernameRecipient addresses a public chat by "@name".
type usernameRecipient string

func (u usernameRecipient) Recipient() string { return string(u) }

func recipientFor(to kit.ChatTarget) (tele.Recipient, error) {
	if to.ChatID != 0 {
		return &tele.Chat{ID: to.ChatID}, nil
	}
	name := strings.TrimSpace(to.Username)
	if name == "" {
		return nil, errors.New("telegram: empty chat target")
	}
	if !strings.HasPrefix(name, "@") {
		name = "@" + name
	}
	return usernameRecipient(name), nil
}

// SendText sends text, split into chunks when it exceeds the Telegram limit.
// The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	rcpt, err := recipientFor(to)
	if err != nil {
		return kit.MessageRef{}, err
	}

	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return first, err
			}
		}

		msg, err := a.bot.Send(rcpt, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, wrapSendError(err)
		}
		if i == 0 && msg != nil {
			chatID := to.ChatID
			if msg.Chat != nil {
				chatID = msg.Chat.ID
			}
			first = kit.MessageRef{ChatID: chatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	a.log.Debug("message sent", logx.Int("chunks", len(chunks)))
	return first, nil
}

var retryAfterRe = regexp.MustCompile(`(?i)retry after (\d+)`)

// wrapSendError turns Bot API flood errors ("Too Many Requests: retry after N") into *kit.RetryAfterError.
func wrapSendError(err error) error {
	m := retryAfterRe.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return err
	}
	return &kit.RetryAfterError{After: time.Duration(n) * time.Second, Err: err}
}
