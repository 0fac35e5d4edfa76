package duty

import (
	"context"
	"fmt"

	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/notify"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
)

// attach starts a monitor for user and returns any monitor it replaced,
// which the caller stops once s.mu is released. Callers hold s.mu.
func (s *Service) attach(user string) *liveness.Monitor {
	if s.probe == nil {
		return nil
	}
	stale := s.monitors[user]
	s.monitors[user] = liveness.Start(user, s.probe, s.live, s.livenessLost)
	return stale
}

// detach forgets the monitor of user and returns it for stopping. Callers
// hold s.mu.
func (s *Service) detach(user string) *liveness.Monitor {
	m := s.monitors[user]
	delete(s.monitors, user)
	return m
}

// Monitoring reports whether a liveness monitor runs for user.
func (s *Service) Monitoring(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[user]
	return ok
}

func (s *Service) livenessLost(m *liveness.Monitor) {
	ctx, cancel := context.WithTimeout(context.Background(), lostTimeout)
	defer cancel()

	user := m.User()
	rec, err := s.end(ctx, user, model.EndLiveness, m)
	if err != nil {
		obs.Log(obs.LevelError, "ending duty after liveness loss", map[string]any{"user": user, "err": err})
		// m exits after this callback; forget it so Reconcile attaches a new one.
		s.mu.Lock()
		if s.monitors[user] == m {
			delete(s.monitors, user)
		}
		s.mu.Unlock()
		return
	}
	if rec == nil || s.notifier == nil {
		return
	}
	n := notify.Notice{
		User:    user,
		Title:   "Duty ended automatically",
		Message: fmt.Sprintf("The game server is no longer running. %s of duty recorded.", rec.FormattedDuration),
		At:      s.now(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		obs.Log(obs.LevelWarn, "liveness notice failed", map[string]any{"user": user, "err": err})
	}
}

// Reconcile makes the running monitors match the stored statuses: users on
// duty get a monitor, everyone else loses theirs. Long-running processes
// call it to pick up sessions started elsewhere.
func (s *Service) Reconcile(ctx context.Context) error {
	if s.probe == nil {
		return nil
	}
	users, err := s.Users()
	if err != nil {
		return err
	}
	active := map[string]bool{}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		active[u] = s.Status(u).Active
	}

	var stop []*liveness.Monitor
	s.mu.Lock()
	for u, on := range active {
		if m, ok := s.monitors[u]; on && (!ok || finished(m)) {
			if stale := s.attach(u); stale != nil {
				stop = append(stop, stale)
			}
		}
	}
	for u := range s.monitors {
		if !active[u] {
			stop = append(stop, s.detach(u))
		}
	}
	s.mu.Unlock()

	for _, m := range stop {
		m.Stop()
	}
	return nil
}

// finished reports whether the goroutine of m has exited.
func finished(m *liveness.Monitor) bool {
	select {
	case <-m.Done():
		return true
	default:
		return false
	}
}

// Close stops every monitor. Sessions stay active in the store.
func (s *Service) Close() {
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = map[string]*liveness.Monitor{}
	s.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}
}
