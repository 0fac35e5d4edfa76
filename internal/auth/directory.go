// Package auth manages member accounts and login sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/model"
	"github.com/Tiliavir/duty-time-tracker/internal/seal"
	"github.com/Tiliavir/duty-time-tracker/internal/storage"
)

var (
	ErrNameTaken      = errors.New("auth: this name is already taken")
	ErrUnknownUser    = errors.New("auth: user not found")
	ErrBadCredentials = errors.New("auth: wrong name or password")
	ErrInvalidName    = errors.New("auth: name must not be empty")
	ErrLastAdmin      = errors.New("auth: the last admin cannot be removed or demoted")
	ErrAdminToggle    = errors.New("auth: admins cannot be toggled to moderator")
	ErrNotEmpty       = errors.New("auth: directory already has an admin")
)

// Directory is the list of accounts stored under serviceUsers.
type Directory struct {
	store kv.Store
	codec seal.Codec
	now   func() time.Time
}

// NewDirectory returns a directory over store. Blobs are encoded with codec.
func NewDirectory(store kv.Store, codec seal.Codec) *Directory {
	return &Directory{store: store, codec: codec, now: time.Now}
}

func load(r kv.Reader, c seal.Codec) ([]model.User, error) {
	var users []model.User
	if _, err := storage.Load(r, c, storage.UsersKey, &users); err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	for i := range users {
		if users[i].Role == "" {
			users[i].Role = model.RoleUser
		}
	}
	return users, nil
}

func find(users []model.User, name string) int {
	for i, u := range users {
		if model.SameName(u.Name, name) {
			return i
		}
	}
	return -1
}

func countAdmins(users []model.User) int {
	n := 0
	for _, u := range users {
		if u.IsAdmin() {
			n++
		}
	}
	return n
}

// update loads the users list, lets fn change it and saves it, in one
// transaction.
func (d *Directory) update(ctx context.Context, fn func(tx kv.Tx, users []model.User) ([]model.User, error)) error {
	return d.store.WithTransaction(ctx, func(tx kv.Tx) error {
		users, err := load(tx, d.codec)
		if err != nil {
			return err
		}
		users, err = fn(tx, users)
		if err != nil {
			return err
		}
		return storage.Save(tx, d.codec, storage.UsersKey, users)
	})
}

// modify applies fn to the named user.
func (d *Directory) modify(ctx context.Context, name string, fn func(users []model.User, i int) error) (model.User, error) {
	var out model.User
	err := d.update(ctx, func(_ kv.Tx, users []model.User) ([]model.User, error) {
		i := find(users, name)
		if i < 0 {
			return nil, ErrUnknownUser
		}
		if err := fn(users, i); err != nil {
			return nil, err
		}
		out = users[i]
		return users, nil
	})
	return out, err
}

// List returns every account in stored order.
func (d *Directory) List() ([]model.User, error) {
	return load(d.store, d.codec)
}

// Lookup finds an account by case-insensitive name.
func (d *Directory) Lookup(name string) (model.User, error) {
	users, err := d.List()
	if err != nil {
		return model.User{}, err
	}
	i := find(users, name)
	if i < 0 {
		return model.User{}, ErrUnknownUser
	}
	return users[i], nil
}

// Register creates a member account.
func (d *Directory) Register(ctx context.Context, name, password string) (model.User, error) {
	return d.create(ctx, name, password, model.RoleUser, false)
}

// Bootstrap creates the first admin. It fails once any admin exists.
func (d *Directory) Bootstrap(ctx context.Context, name, password string) (model.User, error) {
	return d.create(ctx, name, password, model.RoleAdmin, true)
}

func (d *Directory) create(ctx context.Context, name, password string, role model.Role, first bool) (model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, ErrInvalidName
	}
	hash, err := HashPassword(password)
	if err != nil {
		return model.User{}, fmt.Errorf("auth: %w", err)
	}
	now := d.now().UTC()
	u := model.User{Name: name, PasswordHash: hash, Role: role, CreatedAt: &now}

	err = d.update(ctx, func(_ kv.Tx, users []model.User) ([]model.User, error) {
		if first && countAdmins(users) > 0 {
			return nil, ErrNotEmpty
		}
		if find(users, name) >= 0 {
			return nil, ErrNameTaken
		}
		return append(users, u), nil
	})
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Authenticate checks a name and password. Accounts still carrying a
// plaintext password from the browser version are upgraded to a bcrypt
// hash on their first successful login.
func (d *Directory) Authenticate(ctx context.Context, name, password string) (model.User, error) {
	var out model.User
	err := d.update(ctx, func(tx kv.Tx, users []model.User) ([]model.User, error) {
		i := find(users, name)
		if i < 0 {
			return nil, ErrBadCredentials
		}
		u := &users[i]
		if u.PasswordHash != "" {
			if CheckPassword(u.PasswordHash, password) != nil {
				return nil, ErrBadCredentials
			}
			out = *u
			return users, nil
		}

		saved, _, err := tx.Get(storage.PasswordKey(u.Name))
		if err != nil {
			return nil, err
		}
		if password == "" || (password != saved && password != u.LegacyPassword) {
			return nil, ErrBadCredentials
		}
		hash, err := HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		u.PasswordHash = hash
		u.LegacyPassword = ""
		if err := tx.Remove(storage.PasswordKey(u.Name)); err != nil {
			return nil, err
		}
		out = *u
		return users, nil
	})
	return out, err
}

// SetPassword replaces a password. force marks the account for a password
// change at next login, as after an admin reset.
func (d *Directory) SetPassword(ctx context.Context, name, password string, force bool) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	_, err = d.modify(ctx, name, func(users []model.User, i int) error {
		users[i].PasswordHash = hash
		users[i].LegacyPassword = ""
		users[i].ForcePasswordChange = force
		return nil
	})
	return err
}

// SetRole changes a user's role.
func (d *Directory) SetRole(ctx context.Context, name string, role model.Role) (model.User, error) {
	return d.modify(ctx, name, func(users []model.User, i int) error {
		if users[i].IsAdmin() && role != model.RoleAdmin && countAdmins(users) == 1 {
			return ErrLastAdmin
		}
		users[i].Role = role
		return nil
	})
}

// ToggleModerator flips a member between user and moderator.
func (d *Directory) ToggleModerator(ctx context.Context, name string) (model.User, error) {
	return d.modify(ctx, name, func(users []model.User, i int) error {
		switch users[i].Role {
		case model.RoleAdmin:
			return ErrAdminToggle
		case model.RoleModerator:
			users[i].Role = model.RoleUser
		default:
			users[i].Role = model.RoleModerator
		}
		return nil
	})
}

// SetRegiment assigns a user to a regiment. An empty regiment clears it.
func (d *Directory) SetRegiment(ctx context.Context, name, regiment string) (model.User, error) {
	return d.modify(ctx, name, func(users []model.User, i int) error {
		users[i].Regiment = strings.TrimSpace(regiment)
		return nil
	})
}

// Delete removes an account and every key stored for it.
func (d *Directory) Delete(ctx context.Context, name string) error {
	return d.update(ctx, func(tx kv.Tx, users []model.User) ([]model.User, error) {
		i := find(users, name)
		if i < 0 {
			return nil, ErrUnknownUser
		}
		if users[i].IsAdmin() && countAdmins(users) == 1 {
			return nil, ErrLastAdmin
		}
		for _, key := range storage.UserKeys(users[i].Name) {
			if err := tx.Remove(key); err != nil {
				return nil, err
			}
		}
		return append(users[:i], users[i+1:]...), nil
	})
}

// Touch records that user was active at t.
func (d *Directory) Touch(user string, t time.Time) error {
	return d.store.Set(storage.LastSeenKey(user), strconv.FormatInt(t.UnixMilli(), 10))
}

// LastSeen returns when user was last active.
func (d *Directory) LastSeen(user string) (time.Time, bool, error) {
	return LastSeen(d.store, user)
}

// LastSeen reads the lastSeen key of user from r.
func LastSeen(r kv.Reader, user string) (time.Time, bool, error) {
	raw, ok, err := r.Get(storage.LastSeenKey(user))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, &storage.CorruptError{Key: storage.LastSeenKey(user), Raw: raw, Err: err}
	}
	return time.UnixMilli(ms), true, nil
}
