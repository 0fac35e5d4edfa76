// Package duty tracks duty sessions: the per-user status register, the
// ledger of completed sessions and the liveness monitors that end sessions
// when the game server goes away.
package duty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tiliavir/duty-time-tracker/internal/ids"
	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/notify"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
	"github.com/Tiliavir/duty-time-tracker/internal/seal"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

var (
	ErrAlreadyActive = errors.New("duty: already on duty")
	ErrNotActive     = errors.New("duty: not on duty")
	ErrNotLive       = errors.New("duty: the game server is not running")
)

// lostTimeout bounds the store work done when a monitor reports a loss.
const lostTimeout = 10 * time.Second

// Options configures a Service. The zero value tracks duty without liveness
// monitoring.
type Options struct {
	// Probe enables liveness monitoring when set.
	Probe    liveness.Probe
	Liveness liveness.Config
	// RequireLive refuses to start duty when the probe confirms the server
	// is down.
	RequireLive bool
	Notifier    notify.Notifier
	Location    *time.Location
	Now         func() time.Time
}

// Service owns the duty state of every user in one store.
type Service struct {
	store       kv.Store
	codec       seal.Codec
	probe       liveness.Probe
	live        liveness.Config
	requireLive bool
	notifier    notify.Notifier
	loc         *time.Location
	now         func() time.Time

	mu       sync.Mutex
	monitors map[string]*liveness.Monitor
}

// NewService returns a duty service over store.
func NewService(store kv.Store, codec seal.Codec, opts Options) *Service {
	s := &Service{
		store:       store,
		codec:       codec,
		probe:       opts.Probe,
		live:        opts.Liveness,
		requireLive: opts.RequireLive,
		notifier:    opts.Notifier,
		loc:         opts.Location,
		now:         opts.Now,
		monitors:    map[string]*liveness.Monitor{},
	}
	if s.codec == nil {
		s.codec = seal.Plain{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) readStatus(r kv.Reader, user string) (model.DutyStatus, error) {
	var st model.DutyStatus
	if _, err := storage.Load(r, s.codec, storage.StatusKey(user), &st); err != nil {
		return model.DutyStatus{}, err
	}
	if !st.Valid() {
		raw, _, _ := r.Get(storage.StatusKey(user))
		return model.DutyStatus{}, &storage.CorruptError{
			Key: storage.StatusKey(user),
			Raw: raw,
			Err: errors.New("active status without start time"),
		}
	}
	return st, nil
}

// statusIn reads the status inside a transaction. Corrupt blobs are
// quarantined and read as inactive.
func (s *Service) statusIn(tx kv.Tx, user string) (model.DutyStatus, error) {
	st, err := s.readStatus(tx, user)
	if err == nil {
		return st, nil
	}
	if ok, serr := storage.Salvage(tx, err); !ok {
		return model.DutyStatus{}, serr
	}
	return model.DutyStatus{}, tx.Remove(storage.StatusKey(user))
}

// Status returns the stored status of user, or the inactive default. Read
// failures are logged, never returned.
func (s *Service) Status(user string) model.DutyStatus {
	st, err := s.readStatus(s.store, user)
	if err == nil {
		return st
	}
	var ce *storage.CorruptError
	if errors.As(err, &ce) {
		if qerr := storage.Quarantine(s.store, ce); qerr != nil {
			obs.Log(obs.LevelError, "quarantine failed", map[string]any{"key": ce.Key, "err": qerr})
		}
	} else {
		obs.Log(obs.LevelError, "reading duty status", map[string]any{"user": user, "err": err})
	}
	return model.DutyStatus{}
}

// Start puts user on duty.
func (s *Service) Start(ctx context.Context, user string) (model.DutyStatus, error) {
	if s.probe != nil && s.requireLive {
		sig, err := liveness.CheckOnce(ctx, s.probe, s.live.Timeout)
		switch {
		case err != nil:
			obs.Log(obs.LevelInfo, "start probe inconclusive", map[string]any{"user": user, "err": err})
		case sig == liveness.Down:
			return model.DutyStatus{}, ErrNotLive
		}
	}

	s.mu.Lock()
	var st model.DutyStatus
	err := s.store.WithTransaction(ctx, func(tx kv.Tx) error {
		cur, err := s.statusIn(tx, user)
		if err != nil {
			return err
		}
		if cur.Active {
			return ErrAlreadyActive
		}
		st = model.ActiveSince(s.now().UnixMilli())
		return storage.Save(tx, s.codec, storage.StatusKey(user), st)
	})
	var stale *liveness.Monitor
	if err == nil {
		stale = s.attach(user)
	}
	s.mu.Unlock()
	stale.Stop()

	if err != nil {
		return model.DutyStatus{}, err
	}
	obs.DutyStarted()
	obs.Log(obs.LevelInfo, "duty started", map[string]any{"user": user, "startedAt": *st.StartedAt})
	return st, nil
}

// End takes user off duty and returns the record appended to the ledger,
// or nil when user was not on duty.
func (s *Service) End(ctx context.Context, user string) (*model.DutyRecord, error) {
	return s.EndWith(ctx, user, model.EndManual)
}

// EndWith is End with an explicit reason stored on the record.
func (s *Service) EndWith(ctx context.Context, user string, reason model.EndReason) (*model.DutyRecord, error) {
	return s.end(ctx, user, reason, nil)
}

// end closes the session of user. With owner set, it acts only while owner
// is still the monitor attached to user.
func (s *Service) end(ctx context.Context, user string, reason model.EndReason, owner *liveness.Monitor) (*model.DutyRecord, error) {
	s.mu.Lock()
	if owner != nil && s.monitors[user] != owner {
		s.mu.Unlock()
		return nil, nil
	}
	rec, err := s.closeSession(ctx, user, reason)
	var m *liveness.Monitor
	if err == nil {
		m = s.detach(user)
	}
	s.mu.Unlock()
	m.Stop()

	if err != nil || rec == nil {
		return nil, err
	}
	obs.DutyEnded(string(reason))
	obs.Log(obs.LevelInfo, "duty ended", map[string]any{
		"user": user, "reason": reason, "duration": rec.DurationSeconds,
	})
	return rec, nil
}

// closeSession appends the record and resets the status in one transaction.
func (s *Service) closeSession(ctx context.Context, user string, reason model.EndReason) (*model.DutyRecord, error) {
	var rec *model.DutyRecord
	err := s.store.WithTransaction(ctx, func(tx kv.Tx) error {
		st, err := s.statusIn(tx, user)
		if err != nil || !st.Active {
			return err
		}

		start := *st.StartedAt
		end := s.now().UnixMilli()
		if end <= start {
			end = start + 1
		}
		r, err := s.newRecord(start, end, reason)
		if err != nil {
			return err
		}

		records, err := s.recordsIn(tx, user)
		if err != nil {
			return err
		}
		if err := storage.Save(tx, s.codec, storage.HistoryKey(user), append(records, r)); err != nil {
			return err
		}
		if err := storage.Save(tx, s.codec, storage.StatusKey(user), model.DutyStatus{}); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) newRecord(start, end int64, reason model.EndReason) (model.DutyRecord, error) {
	span, err := timecalc.NewSpan(start, end, s.loc)
	if err != nil {
		return model.DutyRecord{}, fmt.Errorf("duty: %w", err)
	}
	secs := span.Seconds()
	return model.DutyRecord{
		ID:                ids.At(time.UnixMilli(end)),
		Date:              span.Date(),
		StartClock:        span.StartClock(),
		EndClock:          span.EndClock(),
		DurationSeconds:   secs,
		FormattedDuration: timecalc.FormatDuration(secs),
		SortKey:           end,
		StartedAt:         start,
		EndedAt:           end,
		EndReason:         reason,
	}, nil
}
