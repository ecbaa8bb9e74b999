package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ytnotify/internal/domain"
	kit "ytnotify/internal/transport"
	logx "ytnotify/pkg/logx"
)

var ErrNoTarget = errors.New("notifier: no chat target configured")

// Service sends text messages to the configured chat. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log    logx.Logger
	sender kit.Sender

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "notifier"))}
	s.Apply(cfg)
	return s
}

// Apply swaps delivery settings at runtime.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

// Target returns the chat messages go to.
func (s *Service) Target() kit.ChatTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Target
}

// Send delivers text, retrying transient failures. Errors wrap domain.ErrDispatch.
func (s *Service) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.sender == nil {
		return fmt.Errorf("%w: no sender", domain.ErrDispatch)
	}
	if cfg.Target.IsZero() {
		return fmt.Errorf("%w: %w", domain.ErrDispatch, ErrNoTarget)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty message", domain.ErrDispatch)
	}

	opt := &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: cfg.DisablePreview}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDispatch, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		_, err := s.sender.SendText(callCtx, cfg.Target, text, opt)
		cancel()
		if err == nil {
			s.appendHistory(text)
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		delay := retryDelay(cfg, attempt)
		var ra *kit.RetryAfterError
		if errors.As(err, &ra) && ra.After > delay {
			delay = ra.After
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %w", domain.ErrDispatch, errors.Join(ctx.Err(), lastErr))
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrDispatch, lastErr)
}

// History returns recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

// retryDelay is the wait before the attempt after `attempt` (1-based): exponential with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	return min(max(d, 0), cfg.RetryMaxDelay)
}
