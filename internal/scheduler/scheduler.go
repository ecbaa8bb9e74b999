package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "ytnotify/pkg/logx"
)

// Config controls when runs are triggered.
type Config struct {
	// Schedule is a cron expression or interval string (see Parse). It wins over Interval.
	Schedule string
	// Interval triggers a run every Interval when Schedule is empty.
	Interval time.Duration
	// Timezone is an IANA name for cron specs (empty = Local).
	Timezone string
	// RunOnStart fires one run immediately after Start.
	RunOnStart bool
	// Timeout bounds one run (0 = no limit beyond the service context).
	Timeout time.Duration
}

// Enabled reports whether cfg describes a repeating schedule.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Schedule) != "" || c.Interval > 0
}

// Parsed resolves the configured schedule.
func (c Config) Parsed() (Parsed, error) {
	if strings.TrimSpace(c.Schedule) != "" {
		return Parse(c.Schedule)
	}
	return FromInterval(c.Interval)
}

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Spec     string
	Timezone string
	Next     time.Time
	Prev     time.Time
	Running  bool
	Runs     uint64
	Skipped  uint64
	LastRun  time.Time
	LastTook time.Duration
	LastErr  string
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	job Job

	c       *cron.Cron
	entryID cron.EntryID
	spec    string
	loc     *time.Location

	// ctx is the parent of every run; cancel aborts a run still going when Stop gives up.
	ctx    context.Context
	cancel context.CancelFunc

	stopped bool
	running atomic.Bool
	wg      sync.WaitGroup

	runs    atomic.Uint64
	skipped atomic.Uint64

	lmu      sync.Mutex
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log.With(logx.String("comp", "scheduler"))}
}

// Start validates the schedule and begins triggering. It is a no-op when already started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if s.job == nil {
		return errors.New("scheduler: nil job")
	}
	ps, err := s.cfg.Parsed()
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	s.stopped = false
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := s.startCronLocked(ps); err != nil {
		s.cancel()
		return err
	}
	if s.cfg.RunOnStart {
		go s.fire()
	}
	return nil
}

func (s *Service) startCronLocked(ps Parsed) error {
	loc := s.loadLocationLocked()
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
		cron.WithLogger(cronLogger{log: s.log}),
	)

	var (
		id  cron.EntryID
		err error
	)
	if ps.Kind == KindInterval {
		// cron.Every anchors on the previous activation, not on wall clock boundaries.
		id = c.Schedule(cron.Every(ps.Every), cron.FuncJob(s.fire))
	} else {
		id, err = c.AddFunc(ps.Cron, s.fire)
		if err != nil {
			return fmt.Errorf("scheduler: register %q: %w", ps.Cron, err)
		}
	}
	c.Start()

	s.c, s.entryID, s.spec, s.loc = c, id, ps.Spec(), loc
	s.log.Info("scheduler started",
		logx.String("spec", s.spec),
		logx.String("tz", loc.String()),
		logx.String("next", s.previewNextLocked(3)),
	)
	return nil
}

// Apply swaps the config and re-registers the trigger when the schedule or timezone changed.
// A run in progress is not interrupted.
func (s *Service) Apply(cfg Config) error {
	if cfg.Enabled() {
		if _, err := cfg.Parsed(); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil || s.stopped {
		return nil
	}
	if s.c != nil && old.Schedule == cfg.Schedule && old.Interval == cfg.Interval && strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	if !cfg.Enabled() {
		s.log.Warn("schedule cleared; triggers paused until a schedule is configured")
		return nil
	}
	ps, _ := cfg.Parsed()
	return s.startCronLocked(ps)
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stop stops triggering and waits for the running job. When ctx expires first the job's
// context is cancelled and Stop waits for it to return.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached; cancelling running job")
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// fire runs the job unless a previous run is still going.
func (s *Service) fire() {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("previous run still in progress; trigger skipped")
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.running.Store(false)
		return
	}
	parent := s.ctx
	timeout := s.cfg.Timeout
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer s.running.Store(false)

	if parent == nil {
		parent = context.Background()
	}
	if err := parent.Err(); err != nil {
		return
	}
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.job(ctx)
	took := time.Since(start)
	s.runs.Add(1)

	s.lmu.Lock()
	s.lastRun, s.lastTook, s.lastErr = start, took, ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.lmu.Unlock()

	if err != nil {
		s.log.Error("scheduled run failed", logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled run finished", logx.Duration("took", took))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Spec: s.spec, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	if s.c != nil && s.entryID != 0 {
		e := s.c.Entry(s.entryID)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()
	snap.Runs = s.runs.Load()
	snap.Skipped = s.skipped.Load()
	s.lmu.Lock()
	snap.LastRun, snap.LastTook, snap.LastErr = s.lastRun, s.lastTook, s.lastErr
	s.lmu.Unlock()
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextLocked lists upcoming trigger times. Call with s.mu held.
func (s *Service) previewNextLocked(n int) string {
	if s.c == nil || s.entryID == 0 {
		return ""
	}
	sched := s.c.Entry(s.entryID).Schedule
	if sched == nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
