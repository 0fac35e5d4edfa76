package duty

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/liveness"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

// ResetOptions tunes ledger resets.
type ResetOptions struct {
	// DiscardActive also ends a running session without recording it.
	DiscardActive bool
}

// recordsIn reads the ledger inside a transaction. A corrupt ledger is
// quarantined and read as empty.
func (s *Service) recordsIn(tx kv.Tx, user string) ([]model.DutyRecord, error) {
	var records []model.DutyRecord
	_, err := storage.Load(tx, s.codec, storage.HistoryKey(user), &records)
	if err == nil {
		return records, nil
	}
	if ok, serr := storage.Salvage(tx, err); !ok {
		return nil, serr
	}
	return nil, nil
}

// Records returns the ledger of user in insertion order. Read failures are
// logged and yield an empty ledger.
func (s *Service) Records(user string) []model.DutyRecord {
	var records []model.DutyRecord
	_, err := storage.Load(s.store, s.codec, storage.HistoryKey(user), &records)
	if err == nil {
		return records
	}
	var ce *storage.CorruptError
	if errors.As(err, &ce) {
		if qerr := storage.Quarantine(s.store, ce); qerr != nil {
			obs.Log(obs.LevelError, "quarantine failed", map[string]any{"key": ce.Key, "err": qerr})
		}
	} else {
		obs.Log(obs.LevelError, "reading duty ledger", map[string]any{"user": user, "err": err})
	}
	return nil
}

// Append adds a completed record to the ledger of user.
func (s *Service) Append(ctx context.Context, user string, rec model.DutyRecord) error {
	return s.store.WithTransaction(ctx, func(tx kv.Tx) error {
		records, err := s.recordsIn(tx, user)
		if err != nil {
			return err
		}
		return storage.Save(tx, s.codec, storage.HistoryKey(user), append(records, rec))
	})
}

// Total sums the recorded seconds of user.
func (s *Service) Total(user string) (int64, string) {
	secs := TotalSeconds(s.Records(user))
	return secs, timecalc.FormatDuration(secs)
}

// TotalSeconds sums the durations of records.
func TotalSeconds(records []model.DutyRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.DurationSeconds
	}
	return total
}

// SortNewestFirst returns a copy of records ordered by end time, newest first.
func SortNewestFirst(records []model.DutyRecord) []model.DutyRecord {
	out := slices.Clone(records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortKey > out[j].SortKey })
	return out
}

// ResetLedger clears the ledger of user. An idle status is cleared too; a
// running session keeps running unless opts.DiscardActive is set.
func (s *Service) ResetLedger(ctx context.Context, user string, opts ResetOptions) error {
	s.mu.Lock()
	discarded := false
	err := s.store.WithTransaction(ctx, func(tx kv.Tx) error {
		if err := tx.Remove(storage.HistoryKey(user)); err != nil {
			return err
		}
		st, err := s.statusIn(tx, user)
		if err != nil {
			return err
		}
		if st.Active && !opts.DiscardActive {
			return nil
		}
		discarded = st.Active
		return tx.Remove(storage.StatusKey(user))
	})
	var m *liveness.Monitor
	if err == nil && discarded {
		m = s.detach(user)
	}
	s.mu.Unlock()
	m.Stop()

	if err != nil {
		return err
	}
	obs.Log(obs.LevelInfo, "ledger reset", map[string]any{"user": user, "discardedActive": discarded})
	return nil
}

// Users lists every user with a ledger or a status key.
func (s *Service) Users() ([]string, error) {
	history, err := storage.UsersWithPrefix(s.store, storage.HistoryPrefix)
	if err != nil {
		return nil, err
	}
	status, err := storage.UsersWithPrefix(s.store, storage.StatusPrefix)
	if err != nil {
		return nil, err
	}
	users := append(history, status...)
	slices.Sort(users)
	return slices.Compact(users), nil
}

// ResetAll resets the ledger of every user. Each user is reset in its own
// transaction; failures are joined and do not stop the others. It returns
// the users that were reset.
func (s *Service) ResetAll(ctx context.Context, opts ResetOptions) ([]string, error) {
	users, err := s.Users()
	if err != nil {
		return nil, err
	}
	return s.ResetUsers(ctx, users, opts)
}

// ResetUsers resets the ledgers of users like ResetAll.
func (s *Service) ResetUsers(ctx context.Context, users []string, opts ResetOptions) ([]string, error) {
	var (
		done []string
		errs []error
	)
	for _, u := range users {
		if err := s.ResetLedger(ctx, u, opts); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		done = append(done, u)
	}
	return done, errors.Join(errs...)
}
