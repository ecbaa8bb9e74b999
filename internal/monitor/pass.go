package monitor

import (
	"context"
	"errors"
	"fmt"

	"ytnotify/internal/domain"
	"ytnotify/internal/eventbus"
	"ytnotify/internal/filter"
	logx "ytnotify/pkg/logx"
)

// pass holds the state of one RunPass call.
type pass struct {
	m   *Monitor
	cfg Config
	ch  domain.Channel
	res *PassResult
	log logx.Logger
}

type candidate struct {
	item     domain.Item
	decision filter.Decision
	url      string
	err      error // rewrite failure; the item is not dispatched this pass
}

func (p *pass) run(ctx context.Context) {
	if !p.to(StateFetching) {
		return
	}
	p.log.Info("checking channel")
	items, err := p.fetch(ctx)
	if err != nil {
		p.fail(err)
		return
	}
	p.res.Fetched = len(items)
	if len(items) > 0 && p.res.ChannelName == p.ch.URL {
		p.res.ChannelName = p.ch.DisplayName(items[0].ChannelName)
	}

	if !p.to(StateEvaluating) {
		return
	}
	set, err := p.m.store.NotifiedSet(ctx, p.ch.ID)
	if err != nil {
		p.fail(fmt.Errorf("load notified set: %w", err))
		return
	}
	cands := p.evaluate(ctx, items)

	if !p.to(StateDispatching) {
		return
	}
	seed := !set.HasRun && p.ch.FirstRun == domain.FirstRunSeed
	if err := p.dispatch(ctx, cands, set, seed); err != nil {
		p.fail(err)
		return
	}
	if p.cfg.DryRun {
		p.to(StateDone)
		return
	}

	if !p.to(StateCommitting) {
		return
	}
	cctx, cancel := p.commitContext(ctx)
	err = p.m.store.MarkRun(cctx, p.ch.ID, p.m.now())
	cancel()
	if err != nil {
		p.fail(fmt.Errorf("mark run: %w", err))
		return
	}
	p.to(StateDone)
}

func (p *pass) fetch(ctx context.Context) ([]domain.Item, error) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	items, err := p.m.provider.FetchRecent(fctx, p.ch.URL, p.ch.Count)
	if err != nil {
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		return nil, err
	}
	return uniqueRecent(items, p.ch.Count), nil
}

// uniqueRecent drops repeated ids (first occurrence wins) and caps the batch at count.
func uniqueRecent(items []domain.Item, count int) []domain.Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
		if len(out) == count {
			break
		}
	}
	return out
}

// evaluate applies the filters and resolves the outbound URL of every qualifying item.
func (p *pass) evaluate(ctx context.Context, items []domain.Item) []candidate {
	out := make([]candidate, 0, len(items))
	for _, it := range items {
		d := filter.Evaluate(p.ch, it)
		p.log.Debug("evaluated",
			logx.String("item", it.ID),
			logx.String("reason", string(d.Reason)),
			logx.Bool("qualifies", d.Qualifies),
		)
		c := candidate{item: it, decision: d}
		if d.Qualifies {
			p.res.Qualified++
			c.url = it.URL
			if p.m.rewriter != nil {
				url, err := p.m.rewriter.RewriteFor(ctx, p.ch, it.URL)
				if err != nil {
					c.err = fmt.Errorf("rewrite %s: %w", it.ID, err)
				} else {
					c.url = url
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// dispatch sends every new qualifying item and records it right after a successful send.
// A failed send does not stop the loop; the item stays unmarked and is retried next pass.
// A failed state write stops the loop: continuing could notify twice.
func (p *pass) dispatch(ctx context.Context, cands []candidate, set domain.NotifiedSet, seed bool) error {
	var errs []error
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		it := c.item

		if set.Contains(it.ID) {
			p.res.AlreadyNotified++
			p.skipLog("already notified", logx.String("item", it.ID))
			continue
		}
		if !c.decision.Qualifies {
			p.skipLog("skipped", logx.String("item", it.ID), logx.String("title", it.Title), logx.String("reason", c.decision.Detail))
			continue
		}
		if c.err != nil {
			p.res.Failed++
			errs = append(errs, c.err)
			p.log.Warn("rewrite failed", logx.String("item", it.ID), logx.Err(c.err))
			continue
		}

		if seed {
			if p.cfg.DryRun {
				p.log.Info("would seed", logx.String("item", it.ID), logx.String("title", it.Title))
				continue
			}
			if err := p.commit(ctx, it.ID); err != nil {
				return errors.Join(append(errs, err)...)
			}
			set.Add(it.ID, p.m.now())
			p.res.Seeded++
			p.log.Info("seeded", logx.String("item", it.ID), logx.String("title", it.Title))
			continue
		}

		text := FormatMessage(p.ch.DisplayName(it.ChannelName), it.Title, c.url)
		if p.cfg.DryRun {
			p.log.Info("would notify", logx.String("item", it.ID), logx.String("title", it.Title), logx.String("link", c.url))
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
		err := p.m.notifier.Send(sctx, text)
		cancel()
		if err != nil {
			if !errors.Is(err, domain.ErrDispatch) {
				err = fmt.Errorf("%w: %w", domain.ErrDispatch, err)
			}
			err = fmt.Errorf("item %s: %w", it.ID, err)
			p.res.Failed++
			errs = append(errs, err)
			p.log.Warn("dispatch failed", logx.String("item", it.ID), logx.Err(err))
			p.m.bus.Publish(eventbus.Event{Type: eventbus.TypeItemFailed, Data: eventbus.ItemEvent{ChannelID: p.ch.ID, ItemID: it.ID, URL: c.url, Err: err.Error()}})
			continue
		}
		p.res.Dispatched++

		if err := p.commit(ctx, it.ID); err != nil {
			return errors.Join(append(errs, err)...)
		}
		set.Add(it.ID, p.m.now())
		p.log.Info("notified", logx.String("item", it.ID), logx.String("title", it.Title))
		p.m.bus.Publish(eventbus.Event{Type: eventbus.TypeItemDispatched, Data: eventbus.ItemEvent{ChannelID: p.ch.ID, ItemID: it.ID, URL: c.url}})
	}
	return errors.Join(errs...)
}

// commit records itemID as notified. It runs detached from ctx cancellation so a sent
// item is always recorded.
func (p *pass) commit(ctx context.Context, itemID string) error {
	cctx, cancel := p.commitContext(ctx)
	defer cancel()
	if err := p.m.store.MarkNotified(cctx, p.ch.ID, itemID, p.m.now()); err != nil {
		return fmt.Errorf("mark notified %s: %w", itemID, err)
	}
	return nil
}

func (p *pass) commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CommitTimeout)
}

func (p *pass) skipLog(msg string, fields ...logx.Field) {
	if p.cfg.SuppressSkipMsgs {
		p.log.Debug(msg, fields...)
		return
	}
	p.log.Info(msg, fields...)
}

// to moves the pass to next and publishes the transition. An invalid transition fails the pass.
func (p *pass) to(next State) bool {
	from := p.res.State
	if err := transition(from, next); err != nil {
		p.log.Error("invalid pass transition", logx.Err(err))
		p.res.State = StateFailed
		p.res.Err = errors.Join(p.res.Err, err)
		return false
	}
	p.res.State = next
	ev := eventbus.PassState{ChannelID: p.ch.ID, From: string(from), To: string(next), DryRun: p.cfg.DryRun}
	if next == StateFailed && p.res.Err != nil {
		ev.Err = p.res.Err.Error()
	}
	p.m.bus.Publish(eventbus.Event{Type: eventbus.TypePassState, Data: ev})
	return true
}

func (p *pass) fail(err error) {
	p.res.Err = err
	p.to(StateFailed)
}
