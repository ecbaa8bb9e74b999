// Package app wires the config file into the ytnotify services and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ytnotify/internal/channels"
	"ytnotify/internal/config"
	"ytnotify/internal/domain"
	"ytnotify/internal/eventbus"
	"ytnotify/internal/monitor"
	"ytnotify/internal/notifier"
	"ytnotify/internal/preset"
	"ytnotify/internal/provider"
	"ytnotify/internal/provider/ytdlp"
	"ytnotify/internal/runtime/supervisor"
	"ytnotify/internal/scheduler"
	"ytnotify/internal/storage"
	kit "ytnotify/internal/transport"
	telegram "ytnotify/internal/transport/telegram/adapter"
	logx "ytnotify/pkg/logx"
	"ytnotify/pkg/systemd"
)

// ErrNoDelivery is returned when a non-dry run has nowhere to send notifications.
var ErrNoDelivery = errors.New("telegram delivery is not configured")

type App struct {
	cfgPath string
	cfgm    *config.Manager
	ov      Overrides

	mu  sync.RWMutex
	cfg *config.Config // effective config (file + overrides)

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sender  kit.Sender
	presets *preset.Registry
	notif   *notifier.Service
	mon     *monitor.Monitor
	sched   *scheduler.Service
	chans   *channels.Service
	sd      *systemd.Notifier

	sup       *supervisor.Supervisor
	fatalOnce sync.Once
	fatalErr  error // guarded by mu
	closeOnce sync.Once
}

type options struct {
	overrides Overrides
	provider  provider.Provider
	sender    kit.Sender
	actor     string
}

type Option func(*options)

func WithOverrides(ov Overrides) Option {
	return func(o *options) { o.overrides = ov }
}

// WithProvider replaces the yt-dlp provider.
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithSender replaces the Telegram adapter.
func WithSender(s kit.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithActor names the operator in audit entries.
func WithActor(actor string) Option {
	return func(o *options) { o.actor = actor }
}

// New loads cfgPath and builds every service. Nothing runs until Run or RunOnce.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	raw, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	cfg := o.overrides.apply(raw)
	if err := checkMappings(cfg); err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		tcfg, ok, err := mapTelegram(cfg)
		if err != nil {
			return nil, err
		}
		if ok {
			ad, err := telegram.New(tcfg, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
			if err != nil {
				return nil, fmt.Errorf("telegram: %w", err)
			}
			sender = ad
		}
	}

	// Set the log target before enabling the Telegram sink so Apply does not warn about a missing chat.
	lcfg := mapLogging(cfg)
	boot := lcfg
	boot.Telegram.Enabled = false
	logs, root := logx.New(boot, sender)
	if target, err := mapLogTarget(cfg); err == nil {
		logs.SetTelegramTarget(target)
	}
	logs.Apply(lcfg)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	scfg, err := mapStorage(cfg, cfgPath)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(scfg, root)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Debug("storage opened", logx.String("driver", scfg.Driver), logx.String("path", scfg.Path))

	bus := eventbus.New()
	reg := preset.New(store, root)

	prov := o.provider
	if prov == nil {
		ycfg, pacing, _ := mapProvider(cfg)
		prov = provider.NewPaced(ytdlp.New(ycfg, nil, root), pacing, root)
	}

	ncfg, _ := mapNotifier(cfg)
	notif := notifier.New(ncfg, sender, root)

	mcfg, _ := mapMonitor(cfg)
	mon := monitor.New(mcfg, store, prov, reg, notif, root, bus)

	var chOpts []channels.Option
	if o.actor != "" {
		chOpts = append(chOpts, channels.WithActor(o.actor))
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		ov:      o.overrides,
		cfg:     cfg,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		sender:  sender,
		presets: reg,
		notif:   notif,
		mon:     mon,
		chans:   channels.New(store, reg, prov, root, chOpts...),
		sd:      systemd.New(root),
	}
	schedCfg, _ := mapScheduler(cfg)
	a.sched = scheduler.New(schedCfg, a.runJob, root)
	return a, nil
}

func (a *App) ConfigPath() string { return a.cfgPath }

// Config returns the effective config (file plus command-line overrides).
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) Logger() logx.Logger                { return a.log }
func (a *App) Channels() *channels.Service        { return a.chans }
func (a *App) Presets() *preset.Registry          { return a.presets }
func (a *App) Monitor() *monitor.Monitor          { return a.mon }
func (a *App) Scheduler() *scheduler.Service      { return a.sched }
func (a *App) Notifier() *notifier.Service        { return a.notif }
func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Store() storage.Store               { return a.store }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// checkDelivery fails early when a non-dry run could not send anything.
func (a *App) checkDelivery() error {
	if a.mon.Config().DryRun {
		return nil
	}
	if a.sender == nil {
		return fmt.Errorf("%w: set telegram.token or %s, or use --dry-run", ErrNoDelivery, config.EnvToken)
	}
	if a.notif.Target().IsZero() {
		return fmt.Errorf("%w: telegram.chat is empty", ErrNoDelivery)
	}
	return nil
}

// RunOnce runs one pass over every channel. The error is non-nil only when the run could not
// start or the state store became unusable (domain.ErrStateCorrupt).
func (a *App) RunOnce(ctx context.Context) ([]monitor.PassResult, error) {
	if err := a.checkDelivery(); err != nil {
		return nil, err
	}
	return a.mon.RunAll(ctx)
}

// RunChannel runs one pass for a single stored channel.
func (a *App) RunChannel(ctx context.Context, id string) (monitor.PassResult, error) {
	if err := a.checkDelivery(); err != nil {
		return monitor.PassResult{}, err
	}
	return a.mon.RunChannel(ctx, id)
}

// Run runs passes on the configured schedule until ctx is done, or a single pass when no
// schedule is configured.
func (a *App) Run(ctx context.Context) error {
	if err := a.checkDelivery(); err != nil {
		return err
	}
	if a.ov.Once || !a.sched.Config().Enabled() {
		_, err := a.mon.RunAll(ctx)
		return err
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.sup.Context().Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Stop(stopCtx)
	return a.Err()
}

// runJob is the scheduled job. A corrupt store stops the process.
func (a *App) runJob(ctx context.Context) error {
	_, err := a.mon.RunAll(ctx)
	if errors.Is(err, domain.ErrStateCorrupt) {
		a.fail(err)
	}
	return err
}

func (a *App) fail(err error) {
	a.fatalOnce.Do(func() {
		a.mu.Lock()
		a.fatalErr = err
		a.mu.Unlock()
		a.log.Error("fatal error; stopping", logx.Err(err))
	})
	if a.sup != nil {
		a.sup.Cancel()
	}
}

// Err returns the error that stopped the app, if any.
func (a *App) Err() error {
	a.mu.RLock()
	err := a.fatalErr
	a.mu.RUnlock()
	if err != nil {
		return err
	}
	if a.sup != nil {
		return a.sup.Err()
	}
	return nil
}

// Close releases storage and logging. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.store != nil {
			err = a.store.Close()
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
	return err
}

func statusLine(sum eventbus.RunSummary) string {
	parts := []string{
		fmt.Sprintf("last run %s", time.Now().Format("15:04")),
		fmt.Sprintf("%d channels", sum.Channels),
		fmt.Sprintf("%d sent", sum.Dispatched),
	}
	if sum.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", sum.Failed))
	}
	return strings.Join(parts, ", ")
}
