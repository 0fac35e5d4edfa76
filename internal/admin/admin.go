// Package admin builds the moderator and admin views over every member's
// duty state and runs bulk resets.
package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Tiliavir/duty-time-tracker/internal/auth"
	"github.com/Tiliavir/duty-time-tracker/internal/duty"
	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
	"github.com/Tiliavir/duty-time-tracker/internal/timecalc"
)

// DefaultOnlineWindow is how recently a member must have been seen to count
// as online.
const DefaultOnlineWindow = 5 * time.Minute

// ErrForbidden is returned when the viewer lacks the required role.
var ErrForbidden = errors.New("admin: permission denied")

// Directory lists member accounts.
type Directory interface {
	List() ([]model.User, error)
	Lookup(name string) (model.User, error)
}

// Ledger is the duty state the aggregator reads and resets.
type Ledger interface {
	Status(user string) model.DutyStatus
	Records(user string) []model.DutyRecord
	ResetLedger(ctx context.Context, user string, opts duty.ResetOptions) error
	ResetUsers(ctx context.Context, users []string, opts duty.ResetOptions) ([]string, error)
	ResetAll(ctx context.Context, opts duty.ResetOptions) ([]string, error)
}

// Filter scopes an overview.
type Filter struct {
	Regiment      string
	IncludeAdmins bool
}

// Summary is one member's line in the overview.
type Summary struct {
	Name         string           `json:"name"`
	Role         model.Role       `json:"role"`
	Regiment     string           `json:"regiment,omitempty"`
	Status       model.DutyStatus `json:"status"`
	Records      int              `json:"records"`
	TotalSeconds int64            `json:"totalSeconds"`
	Total        string           `json:"total"`
	Online       bool             `json:"online"`
	LastSeen     *time.Time       `json:"lastSeen,omitempty"`
}

// Details is a member's summary with the full ledger, newest first.
type Details struct {
	Summary
	History []model.DutyRecord `json:"history"`
}

// Options tunes an Aggregator.
type Options struct {
	OnlineWindow time.Duration
	Now          func() time.Time
}

// Aggregator joins accounts, statuses and ledgers. It keeps no state.
type Aggregator struct {
	dir    Directory
	ledger Ledger
	seen   kv.Reader
	window time.Duration
	now    func() time.Time
}

// NewAggregator returns an aggregator. lastSeen keys are read from seen.
func NewAggregator(dir Directory, ledger Ledger, seen kv.Reader, opts Options) *Aggregator {
	a := &Aggregator{dir: dir, ledger: ledger, seen: seen, window: opts.OnlineWindow, now: opts.Now}
	if a.window <= 0 {
		a.window = DefaultOnlineWindow
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// RequireModerator fails unless viewer is a moderator or an admin.
func RequireModerator(viewer model.User) error {
	if !viewer.CanModerate() {
		return ErrForbidden
	}
	return nil
}

// RequireAdmin fails unless viewer is an admin.
func RequireAdmin(viewer model.User) error {
	if !viewer.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func (a *Aggregator) summarize(u model.User) (Summary, []model.DutyRecord) {
	records := a.ledger.Records(u.Name)
	total := duty.TotalSeconds(records)
	s := Summary{
		Name:         u.Name,
		Role:         u.Role,
		Regiment:     u.Regiment,
		Status:       a.ledger.Status(u.Name),
		Records:      len(records),
		TotalSeconds: total,
		Total:        timecalc.FormatDuration(total),
	}
	seen, ok, err := auth.LastSeen(a.seen, u.Name)
	if err != nil {
		obs.Log(obs.LevelWarn, "reading last seen", map[string]any{"user": u.Name, "err": err})
	}
	if ok {
		s.LastSeen = &seen
		s.Online = a.now().Sub(seen) <= a.window
	}
	return s, records
}

func sameRegiment(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (a *Aggregator) members(f Filter) ([]model.User, error) {
	users, err := a.dir.List()
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.IsAdmin() && !f.IncludeAdmins {
			continue
		}
		if f.Regiment != "" && !sameRegiment(u.Regiment, f.Regiment) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Overview summarizes every member matching f, in directory order.
func (a *Aggregator) Overview(viewer model.User, f Filter) ([]Summary, error) {
	if err := RequireModerator(viewer); err != nil {
		return nil, err
	}
	users, err := a.members(f)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(users))
	for _, u := range users {
		s, _ := a.summarize(u)
		out = append(out, s)
	}
	return out, nil
}

// Details returns one member's summary and ledger. Members may view their
// own details.
func (a *Aggregator) Details(viewer model.User, name string) (Details, error) {
	if !model.SameName(viewer.Name, name) {
		if err := RequireModerator(viewer); err != nil {
			return Details{}, err
		}
	}
	u, err := a.dir.Lookup(name)
	if err != nil {
		return Details{}, err
	}
	s, records := a.summarize(u)
	return Details{Summary: s, History: duty.SortNewestFirst(records)}, nil
}

// Reset clears one member's ledger.
func (a *Aggregator) Reset(ctx context.Context, viewer model.User, name string, opts duty.ResetOptions) error {
	if err := RequireAdmin(viewer); err != nil {
		return err
	}
	u, err := a.dir.Lookup(name)
	if err != nil {
		return err
	}
	return a.ledger.ResetLedger(ctx, u.Name, opts)
}

// ResetAll clears every ledger in the store.
func (a *Aggregator) ResetAll(ctx context.Context, viewer model.User, opts duty.ResetOptions) ([]string, error) {
	if err := RequireAdmin(viewer); err != nil {
		return nil, err
	}
	return a.ledger.ResetAll(ctx, opts)
}

// ResetRegiment clears the ledgers of every member of regiment, admins
// included.
func (a *Aggregator) ResetRegiment(ctx context.Context, viewer model.User, regiment string, opts duty.ResetOptions) ([]string, error) {
	if err := RequireAdmin(viewer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(regiment) == "" {
		return nil, errors.New("admin: regiment is required")
	}
	users, err := a.members(Filter{Regiment: regiment, IncludeAdmins: true})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	return a.ledger.ResetUsers(ctx, names, opts)
}
