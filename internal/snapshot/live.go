package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrNotIdle    = errors.New("live refresh is not idle")
	ErrNotRunning = errors.New("live refresh is not running")
)

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

type Runner interface {
	Run(ctx context.Context, cfg Config) (MarketSnapshot, error)
}

// Frame is one live refresh. Changes holds each symbol's percent move since
// the previous frame, nil when either side had no price.
type Frame struct {
	Seq      int                 `json:"seq"`
	Snapshot MarketSnapshot      `json:"snapshot"`
	Changes  map[string]*float64 `json:"changes"`
}

// Live re-runs a snapshot on a fixed interval until stopped. Runs never
// overlap: a tick that fires while the previous run is in flight is skipped.
type Live struct {
	runner Runner
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	cron     *cron.Cron
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	latest   *Frame
	seq      int
}

func NewLive(r Runner, log zerolog.Logger) *Live {
	return &Live{runner: r, log: log, state: StateIdle}
}

func (l *Live) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Live) Latest() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		return Frame{}, false
	}
	return *l.latest, true
}

// Start validates cfg, runs once immediately and then every
// cfg.RefreshInterval.
func (l *Live) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.RefreshInterval < time.Second {
		return fmt.Errorf("%w: refresh interval %s is under one second", ErrInvalidConfig, cfg.RefreshInterval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return ErrNotIdle
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{l.log}
	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		l.tick(ctx, cfg)
	}))

	c := cron.New(cron.WithLogger(logger))
	if _, err := c.AddJob("@every "+cfg.RefreshInterval.String(), job); err != nil {
		cancel()
		return fmt.Errorf("schedule live refresh: %w", err)
	}

	l.cron, l.cancel, l.state = c, cancel, StateRunning
	c.Start()

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		job.Run()
	}()

	l.log.Info().Dur("every", cfg.RefreshInterval).Int("symbols", len(cfg.Symbols)).Msg("live refresh started")
	return nil
}

// Stop halts the schedule and waits for the in-flight run. If ctx ends
// first, the run is cancelled and ctx's error returned; the refresher is
// Idle either way.
func (l *Live) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.state = StateStopping
	c, cancel := l.cron, l.cancel
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		l.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		err = ctx.Err()
	}
	cancel()

	l.mu.Lock()
	l.state, l.cron, l.cancel = StateIdle, nil, nil
	l.mu.Unlock()
	l.log.Info().Msg("live refresh stopped")
	return err
}

func (l *Live) tick(ctx context.Context, cfg Config) {
	snap, err := l.runner.Run(ctx, cfg)
	if err != nil {
		l.log.Error().Err(err).Msg("live refresh run failed")
		return
	}
	if ctx.Err() != nil {
		// cancelled by Stop; the degraded result is not worth keeping
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var prev *MarketSnapshot
	if l.latest != nil {
		prev = &l.latest.Snapshot
	}
	l.seq++
	l.latest = &Frame{Seq: l.seq, Snapshot: snap, Changes: percentChanges(prev, snap)}
}

func percentChanges(prev *MarketSnapshot, cur MarketSnapshot) map[string]*float64 {
	out := make(map[string]*float64, len(cur.Quotes))
	for sym, q := range cur.Quotes {
		out[sym] = nil
		if prev == nil || !q.Available() {
			continue
		}
		old, ok := prev.Quotes[sym]
		if !ok || !old.Available() || *old.Price == 0 {
			continue
		}
		pct := (*q.Price - *old.Price) / *old.Price * 100
		out[sym] = &pct
	}
	return out
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
