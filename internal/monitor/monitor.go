// Package monitor runs channel passes: fetch recent items, evaluate filters, dispatch
// notifications for new qualifying items and record what was sent.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ytnotify/internal/domain"
	"ytnotify/internal/eventbus"
	"ytnotify/internal/provider"
	"ytnotify/internal/storage"
	logx "ytnotify/pkg/logx"
)

// Notifier delivers one message. Errors wrap domain.ErrDispatch.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Rewriter resolves and applies a channel's URL rewrite.
type Rewriter interface {
	RewriteFor(ctx context.Context, ch domain.Channel, url string) (string, error)
}

// Store is the persistence a pass needs.
type Store interface {
	ListChannels(ctx context.Context) ([]domain.Channel, error)
	GetChannel(ctx context.Context, id string) (domain.Channel, error)
	storage.StateStore
}

type Config struct {
	// Workers is how many channels are processed in parallel by RunAll.
	Workers int
	// FetchTimeout bounds one provider call.
	FetchTimeout time.Duration
	// DispatchTimeout bounds one notifier call, retries included.
	DispatchTimeout time.Duration
	// CommitTimeout bounds one state write. Commits ignore cancellation of the pass.
	CommitTimeout time.Duration
	// DryRun evaluates and logs without sending or recording anything.
	DryRun bool
	// SuppressSkipMsgs silences info logs for skipped and already-notified items.
	SuppressSkipMsgs bool
}

// PassResult summarizes one channel pass.
type PassResult struct {
	ChannelID   string
	ChannelName string
	State       State
	DryRun      bool

	Fetched         int
	Qualified       int
	AlreadyNotified int
	Dispatched      int
	Seeded          int
	Failed          int

	Err  error
	Took time.Duration
}

type Monitor struct {
	mu  sync.RWMutex
	cfg Config

	store    Store
	provider provider.Provider
	rewriter Rewriter
	notifier Notifier
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	locks keyedLock
}

type Option func(*Monitor)

// WithClock overrides time.Now for notified-at and last-run timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func New(cfg Config, store Store, prov provider.Provider, rw Rewriter, n Notifier, log logx.Logger, bus eventbus.Bus, opts ...Option) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	m := &Monitor{
		store:    store,
		provider: prov,
		rewriter: rw,
		notifier: n,
		log:      log.With(logx.String("comp", "monitor")),
		bus:      bus,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.Apply(cfg)
	return m
}

// Apply swaps the run settings. Passes already running keep their snapshot.
func (m *Monitor) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = time.Minute
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Monitor) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// RunAll runs one pass per stored channel with at most Workers in parallel.
// A failing channel never affects the others. The returned error is non-nil only when the
// state store failed in a way that makes further passes unsafe (domain.ErrStateCorrupt).
func (m *Monitor) RunAll(ctx context.Context) ([]PassResult, error) {
	start := time.Now()
	chs, err := m.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	cfg := m.Config()

	results := make([]PassResult, len(chs))
	gctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, ch := range chs {
		g.Go(func() error {
			if err := context.Cause(gctx); err != nil {
				results[i] = PassResult{ChannelID: ch.ID, ChannelName: ch.DisplayName(""), State: StateIdle, DryRun: cfg.DryRun, Err: err}
				return nil
			}
			r := m.RunPass(gctx, ch)
			results[i] = r
			if errors.Is(r.Err, domain.ErrStateCorrupt) {
				cancel(r.Err)
				return r.Err
			}
			return nil
		})
	}
	fatal := g.Wait()

	sum := eventbus.RunSummary{Channels: len(results), Took: time.Since(start)}
	for _, r := range results {
		if r.State == StateFailed || r.Err != nil {
			sum.Failed++
		}
		sum.Dispatched += r.Dispatched
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: sum})
	m.log.Info("run finished",
		logx.Int("channels", sum.Channels),
		logx.Int("failed", sum.Failed),
		logx.Int("dispatched", sum.Dispatched),
		logx.Duration("took", sum.Took),
		logx.Bool("dry_run", cfg.DryRun),
	)
	return results, fatal
}

// RunChannel loads one channel by id and runs a pass for it.
func (m *Monitor) RunChannel(ctx context.Context, id string) (PassResult, error) {
	ch, err := m.store.GetChannel(ctx, id)
	if err != nil {
		return PassResult{}, err
	}
	return m.RunPass(ctx, ch), nil
}

// RunPass runs one pass for ch. At most one pass per channel is in flight; a concurrent call
// returns immediately with domain.ErrPassInFlight.
func (m *Monitor) RunPass(ctx context.Context, ch domain.Channel) PassResult {
	cfg := m.Config()
	res := PassResult{ChannelID: ch.ID, ChannelName: ch.DisplayName(""), State: StateIdle, DryRun: cfg.DryRun}

	unlock, ok := m.locks.TryLock(ch.ID)
	if !ok {
		res.Err = fmt.Errorf("channel %s: %w", ch.ID, domain.ErrPassInFlight)
		return res
	}
	defer unlock()

	start := time.Now()
	p := &pass{
		m:   m,
		cfg: cfg,
		ch:  ch,
		res: &res,
		log: m.log.With(logx.String("channel", ch.ID), logx.String("url", ch.URL)),
	}
	p.run(ctx)
	res.Took = time.Since(start)

	fields := []logx.Field{
		logx.String("state", string(res.State)),
		logx.Int("fetched", res.Fetched),
		logx.Int("qualified", res.Qualified),
		logx.Int("dispatched", res.Dispatched),
		logx.Int("already_notified", res.AlreadyNotified),
		logx.Duration("took", res.Took),
	}
	if res.Seeded > 0 {
		fields = append(fields, logx.Int("seeded", res.Seeded))
	}
	if res.Err != nil {
		p.log.Warn("pass failed", append(fields, logx.Err(res.Err))...)
	} else {
		p.log.Info("pass done", fields...)
	}
	return res
}
