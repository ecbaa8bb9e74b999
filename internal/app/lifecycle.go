package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ytnotify/internal/config"
	"ytnotify/internal/eventbus"
	"ytnotify/internal/runtime/supervisor"
	logx "ytnotify/pkg/logx"
)

// Start begins scheduled runs plus the background loops (config watch, event log, watchdog).
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Reject a reloaded file that would not map cleanly; the running config stays in place.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		return checkMappings(a.ov.apply(cfg))
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(newCfg)
			}
		}
	})
	// Watch retries its own setup errors; a panic or returned error restarts it here.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithMaxRestarts(10),
	)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	snap := a.sched.Snapshot()
	n := 0
	if chs, err := a.chans.List(ctx); err == nil {
		n = len(chs)
	}
	a.sd.Ready(fmt.Sprintf("watching %d channels (%s)", n, snap.Spec))
	a.log.Info("started",
		logx.Int("channels", n),
		logx.String("schedule", snap.Spec),
		logx.Bool("dry_run", a.mon.Config().DryRun),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case eventbus.RunSummary:
				a.sd.Status(statusLine(d))
				if n := eventbus.Dropped(a.bus); n > 0 {
					a.log.Debug("event subscribers fell behind", logx.Int64("dropped", int64(n)))
				}
			case eventbus.PassState:
				a.log.Debug("event", logx.String("type", e.Type), logx.String("channel", d.ChannelID), logx.String("to", d.To))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

// applyConfig pushes a reloaded file into the running services. Sections that need a restart
// are reported and left as they are.
func (a *App) applyConfig(raw *config.Config) {
	newCfg := a.ov.apply(raw)
	oldCfg := a.Config()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if fields := config.RequiresRestart(oldCfg, newCfg); len(fields) > 0 {
		a.log.Warn("restart required for some changes", logx.Strs("fields", fields))
	}

	// Target first so Apply does not warn about a missing chat.
	if target, err := mapLogTarget(newCfg); err == nil {
		a.logs.SetTelegramTarget(target)
	}
	a.logs.Apply(mapLogging(newCfg))

	if ncfg, err := mapNotifier(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if mcfg, err := mapMonitor(newCfg); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	} else {
		a.mon.Apply(mcfg)
	}
	if scfg, err := mapScheduler(newCfg); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(scfg); err != nil {
		a.log.Warn("schedule not applied", logx.Err(err))
	}

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: strings.Join(sections, ",")})
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// Stop waits for the running pass (cancelling it when ctx runs out), stops the background
// loops and closes storage and logging.
func (a *App) Stop(ctx context.Context) {
	if a.sup == nil {
		_ = a.Close()
		return
	}
	a.log.Info("stopping")
	a.sd.Stopping()

	a.step(ctx, "scheduler", 25*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	if n := a.sup.Active(); n > 0 {
		a.log.Warn("background loops still running after stop", logx.Int64("active", n), logx.Int64("started", int64(a.sup.Started())))
	}
	a.log.Info("stopped")
	if err := a.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
// It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
