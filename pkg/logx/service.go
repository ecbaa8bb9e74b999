package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "ytnotify/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
	// Redact lists secrets replaced by "***" in every sink.
	Redact []string
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./ytnotify.log"

// Service owns the sinks behind every Logger it hands out and rebuilds them on Apply.
type Service struct {
	active atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	tg   *telegramSink
}

// New builds the service from cfg. sender may be nil, which disables the Telegram sink.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{tg: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetTelegramTarget sets the chat warnings are mirrored to. A zero target mutes the sink.
func (s *Service) SetTelegramTarget(to kit.ChatTarget) { s.tg.setTarget(to) }

// Apply rebuilds the sinks from cfg. Loggers already handed out follow the change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled && s.tg.configure(cfg.Telegram) {
		sinks = append(sinks, s.tg)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}

	out := zerolog.MultiLevelWriter(sinks...)
	if r := newRedactor(cfg.Redact); r != nil {
		out = &redactWriter{next: out, r: r}
	}
	zl := zerolog.New(out).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.active.Store(&zl)
}

// Close stops the Telegram worker and closes the log file.
func (s *Service) Close() error {
	s.tg.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func newRedactor(secrets []string) *strings.Replacer {
	var pairs []string
	for _, sec := range secrets {
		if sec = strings.TrimSpace(sec); sec != "" {
			pairs = append(pairs, sec, "***")
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	return strings.NewReplacer(pairs...)
}

type redactWriter struct {
	next zerolog.LevelWriter
	r    *strings.Replacer
}

func (w *redactWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *redactWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if _, err := w.next.WriteLevel(level, []byte(w.r.Replace(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// telegramSink mirrors events at or above minLevel to a chat. Writes never block logging:
// messages over the rate limit or beyond the queue are dropped.
type telegramSink struct {
	sender kit.Sender
	queue  chan string

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTelegramSink(sender kit.Sender) *telegramSink {
	return &telegramSink{sender: sender, queue: make(chan string, 256), minLevel: zerolog.WarnLevel}
}

func (t *telegramSink) setTarget(to kit.ChatTarget) {
	t.mu.Lock()
	t.target = to
	t.mu.Unlock()
}

// configure applies cfg and starts the worker once. It reports false when there is no sender.
func (t *telegramSink) configure(cfg TelegramConfig) bool {
	if t.sender == nil {
		return false
	}
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if t.target.IsZero() {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled without a chat")
	}
	if t.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel, t.done = cancel, make(chan struct{})
		go t.run(ctx, t.done)
	}
	return true
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			t.mu.Lock()
			to := t.target
			t.mu.Unlock()
			if to.IsZero() {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			_, _ = t.sender.SendText(sctx, to, msg, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(zerolog.InfoLevel, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ok := t.limiter != nil && level >= t.minLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	select {
	case t.queue <- renderEvent(p):
	default:
	}
	return len(p), nil
}
