// Package announce keeps the announcement board.
package announce

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Tiliavir/duty-time-tracker/internal/ids"
	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/notify"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
	"github.com/Tiliavir/duty-time-tracker/internal/seal"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
)

var (
	ErrNotFound      = errors.New("announce: announcement not found")
	ErrForbidden     = errors.New("announce: only moderators and admins can manage announcements")
	ErrMissingFields = errors.New("announce: title and content are required")
)

// Board stores announcements under one key.
type Board struct {
	store    kv.Store
	codec    seal.Codec
	notifier notify.Notifier
	now      func() time.Time
}

// NewBoard returns a board. Public posts are forwarded to notifier when it
// is not nil.
func NewBoard(store kv.Store, codec seal.Codec, notifier notify.Notifier) *Board {
	return &Board{store: store, codec: codec, notifier: notifier, now: time.Now}
}

func (b *Board) loadIn(tx kv.Tx) ([]model.Announcement, error) {
	var list []model.Announcement
	_, err := storage.Load(tx, b.codec, storage.AnnouncementsKey, &list)
	if err == nil {
		return list, nil
	}
	if ok, serr := storage.Salvage(tx, err); !ok {
		return nil, serr
	}
	return nil, nil
}

// List returns the announcements viewer may read, newest first.
func (b *Board) List(viewer model.User) ([]model.Announcement, error) {
	var list []model.Announcement
	_, err := storage.Load(b.store, b.codec, storage.AnnouncementsKey, &list)
	if err != nil {
		var ce *storage.CorruptError
		if !errors.As(err, &ce) {
			return nil, err
		}
		if qerr := storage.Quarantine(b.store, ce); qerr != nil {
			return nil, qerr
		}
		list = nil
	}

	out := make([]model.Announcement, 0, len(list))
	for _, a := range list {
		if a.Confidential && !viewer.CanModerate() {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	return out, nil
}

// Post publishes an announcement signed by author.
func (b *Board) Post(ctx context.Context, author model.User, title, content string, confidential bool) (model.Announcement, error) {
	if !author.CanModerate() {
		return model.Announcement{}, ErrForbidden
	}
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return model.Announcement{}, ErrMissingFields
	}
	now := b.now().UTC()
	a := model.Announcement{
		ID:           model.AnnouncementID(ids.At(now)),
		Title:        title,
		Content:      content,
		Confidential: confidential,
		Author:       author.Name,
		PostedAt:     now,
	}
	err := b.store.WithTransaction(ctx, func(tx kv.Tx) error {
		list, err := b.loadIn(tx)
		if err != nil {
			return err
		}
		return storage.Save(tx, b.codec, storage.AnnouncementsKey, append(list, a))
	})
	if err != nil {
		return model.Announcement{}, err
	}

	if !confidential && b.notifier != nil {
		n := notify.Notice{User: author.Name, Title: title, Message: content, At: now}
		if err := b.notifier.Notify(ctx, n); err != nil {
			obs.Log(obs.LevelWarn, "announcement notice failed", map[string]any{"id": a.ID, "err": err})
		}
	}
	return a, nil
}

// Update replaces the title, content and confidentiality of an announcement.
func (b *Board) Update(ctx context.Context, editor model.User, id, title, content string, confidential bool) (model.Announcement, error) {
	if !editor.CanModerate() {
		return model.Announcement{}, ErrForbidden
	}
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return model.Announcement{}, ErrMissingFields
	}
	var out model.Announcement
	err := b.store.WithTransaction(ctx, func(tx kv.Tx) error {
		list, err := b.loadIn(tx)
		if err != nil {
			return err
		}
		i := index(list, id)
		if i < 0 {
			return ErrNotFound
		}
		now := b.now().UTC()
		list[i].Title = title
		list[i].Content = content
		list[i].Confidential = confidential
		list[i].ModifiedAt = &now
		out = list[i]
		return storage.Save(tx, b.codec, storage.AnnouncementsKey, list)
	})
	return out, err
}

// Delete removes an announcement.
func (b *Board) Delete(ctx context.Context, editor model.User, id string) error {
	if !editor.CanModerate() {
		return ErrForbidden
	}
	return b.store.WithTransaction(ctx, func(tx kv.Tx) error {
		list, err := b.loadIn(tx)
		if err != nil {
			return err
		}
		i := index(list, id)
		if i < 0 {
			return ErrNotFound
		}
		return storage.Save(tx, b.codec, storage.AnnouncementsKey, append(list[:i], list[i+1:]...))
	})
}

func index(list []model.Announcement, id string) int {
	id = strings.TrimSpace(id)
	for i, a := range list {
		if string(a.ID) == id {
			return i
		}
	}
	return -1
}
