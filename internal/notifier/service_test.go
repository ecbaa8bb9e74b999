package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ytnotify/internal/domain"
	kit "ytnotify/internal/transport"
	logx "ytnotify/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	errs  []error // consumed in order; nil entries succeed
	sent  []string
	calls int
	to    []kit.ChatTarget
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.to = append(f.to, to)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.calls}, nil
}

func fastConfig() Config {
	return Config{
		Target:        kit.ChatTarget{ChatID: 42},
		RatePerSec:    1000,
		Burst:         10,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}
}

func TestSendDelivers(t *testing.T) {
	fs := &fakeSender{}
	s := New(fastConfig(), fs, logx.Nop())

	if err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0] != "hello" || fs.to[0].ChatID != 42 {
		t.Fatalf("unexpected deliveries %+v", fs)
	}
	if h := s.History(); len(h) != 1 || h[0].Text != "hello" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	fs := &fakeSender{errs: []error{errors.New("timeout"), nil}}
	s := New(fastConfig(), fs, logx.Nop())

	if err := s.Send(context.Background(), "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fs.calls != 2 {
		t.Fatalf("calls = %d, want 2", fs.calls)
	}
}

func TestSendGivesUpWithErrDispatch(t *testing.T) {
	boom := errors.New("chat not found")
	fs := &fakeSender{errs: []error{boom, boom, boom, boom}}
	s := New(fastConfig(), fs, logx.Nop())

	err := s.Send(context.Background(), "x")
	if !errors.Is(err, domain.ErrDispatch) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrDispatch wrapping boom, got %v", err)
	}
	if fs.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 + 2 retries)", fs.calls)
	}
}

func TestSendWithoutTarget(t *testing.T) {
	cfg := fastConfig()
	cfg.Target = kit.ChatTarget{}
	s := New(cfg, &fakeSender{}, logx.Nop())
	if err := s.Send(context.Background(), "x"); !errors.Is(err, ErrNoTarget) || !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestSendHonoursRetryAfter(t *testing.T) {
	fs := &fakeSender{errs: []error{&kit.RetryAfterError{After: time.Hour, Err: errors.New("429")}}}
	s := New(fastConfig(), fs, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, "x")
	if !errors.Is(err, domain.ErrDispatch) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected dispatch error cut by deadline, got %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("calls = %d, want 1", fs.calls)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay %v out of bounds", attempt, d)
		}
	}
}
