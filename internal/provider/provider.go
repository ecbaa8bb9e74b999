// Package provider defines the metadata source the monitor reads candidate items from.
package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"ytnotify/internal/domain"
	logx "ytnotify/pkg/logx"
)

// Provider lists the most recent items of a channel, newest first.
// Errors wrap domain.ErrProviderUnavailable.
type Provider interface {
	FetchRecent(ctx context.Context, channelURL string, count int) ([]domain.Item, error)
}

// PacingConfig spaces out consecutive fetches so the upstream site is not hammered.
type PacingConfig struct {
	// MinDelay is the guaranteed gap between two fetches. 0 disables pacing.
	MinDelay time.Duration
	// Jitter adds a random [0, Jitter) wait on top of MinDelay.
	Jitter time.Duration
}

// Paced wraps a Provider with a token bucket plus jitter.
type Paced struct {
	next    Provider
	limiter *rate.Limiter
	jitter  time.Duration
	log     logx.Logger
}

func NewPaced(next Provider, cfg PacingConfig, log logx.Logger) *Paced {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Paced{next: next, jitter: cfg.Jitter, log: log.With(logx.String("comp", "provider.pacer"))}
	if cfg.MinDelay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}
	return p
}

func (p *Paced) FetchRecent(ctx context.Context, channelURL string, count int) ([]domain.Item, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.FetchRecent(ctx, channelURL, count)
}

func (p *Paced) wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if p.jitter <= 0 {
		return nil
	}
	d := rand.N(p.jitter)
	p.log.Trace("pacing", logx.Duration("jitter", d))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
