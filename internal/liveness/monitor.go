package liveness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tiliavir/duty-time-tracker/internal/obs"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Config tunes a Monitor. Zero values fall back to the defaults.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// MaxInconclusive ends the session after this many inconclusive probes
	// in a row. Zero never acts on inconclusive probes.
	MaxInconclusive int
}

// Monitor polls a Probe for one tracked user until it is stopped or the
// activity is lost, in which case onLost runs once on the monitor goroutine.
type Monitor struct {
	user   string
	probe  Probe
	cfg    Config
	onLost func(m *Monitor)

	cancel context.CancelFunc
	done   chan struct{}
	inLost atomic.Bool

	mu     sync.Mutex
	last   Signal
	misses int
}

// Start launches a monitor for user.
func Start(user string, p Probe, cfg Config, onLost func(m *Monitor)) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		user:   user,
		probe:  p,
		cfg:    cfg,
		onLost: onLost,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	obs.MonitorStarted()
	go m.run(ctx)
	return m
}

// User returns the user the monitor tracks.
func (m *Monitor) User() string { return m.user }

// Last returns the most recent conclusive signal.
func (m *Monitor) Last() Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop cancels the monitor and waits for its goroutine to exit. It is safe
// to call more than once, on a nil Monitor, and from within onLost.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.cancel()
	if m.inLost.Load() {
		return
	}
	<-m.done
}

// Done is closed once the monitor goroutine has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	defer obs.MonitorStopped()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one probe and reports whether the monitor is finished.
func (m *Monitor) tick(ctx context.Context) bool {
	sig, err := CheckOnce(ctx, m.probe, m.cfg.Timeout)
	if ctx.Err() != nil {
		return true
	}

	m.mu.Lock()
	lost := false
	switch {
	case err != nil:
		m.misses++
		obs.ProbeResult("inconclusive")
		obs.Log(obs.LevelInfo, "liveness probe inconclusive", map[string]any{
			"user": m.user, "misses": m.misses, "err": err,
		})
		lost = m.cfg.MaxInconclusive > 0 && m.misses >= m.cfg.MaxInconclusive
	case sig == Down:
		m.last = Down
		obs.ProbeResult("down")
		lost = true
	default:
		m.last = Up
		m.misses = 0
		obs.ProbeResult("up")
	}
	m.mu.Unlock()

	if !lost {
		return false
	}
	obs.Log(obs.LevelWarn, "liveness lost", map[string]any{"user": m.user})
	m.inLost.Store(true)
	if m.onLost != nil {
		m.onLost(m)
	}
	return true
}
