// Package storage maps the tracker's records onto store keys and encodes
// them as JSON blobs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tiliavir/duty-time-tracker/internal/kv"
	"github.com/Tiliavir/duty-time-tracker/internal/obs"
	"github.com/Tiliavir/duty-time-tracker/internal/seal"
)

// Key layout shared with the browser version of the tracker.
const (
	StatusPrefix     = "serviceStatus_"
	HistoryPrefix    = "serviceHistory_"
	LastSeenPrefix   = "lastSeen_"
	PasswordPrefix   = "password_"
	UsersKey         = "serviceUsers"
	AnnouncementsKey = "announcements"
	LiveFlagKey      = "gmodRunning"

	// CorruptSuffix marks quarantined copies of unreadable blobs.
	CorruptSuffix = ".corrupt"
)

func StatusKey(user string) string   { return StatusPrefix + user }
func HistoryKey(user string) string  { return HistoryPrefix + user }
func LastSeenKey(user string) string { return LastSeenPrefix + user }
func PasswordKey(user string) string { return PasswordPrefix + user }

// UserKeys lists every per-user key the tracker may write for user.
func UserKeys(user string) []string {
	return []string{StatusKey(user), HistoryKey(user), LastSeenKey(user), PasswordKey(user)}
}

// UsersWithPrefix returns the user names found under prefix, skipping
// quarantined copies.
func UsersWithPrefix(r kv.Reader, prefix string) ([]string, error) {
	keys, err := r.Keys(prefix)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, CorruptSuffix) {
			continue
		}
		if name := strings.TrimPrefix(k, prefix); name != "" {
			users = append(users, name)
		}
	}
	return users, nil
}

// BaseDir returns the root data directory: $DTT_HOME, or ~/.dtt.
func BaseDir() (string, error) {
	if dir := os.Getenv("DTT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".dtt"), nil
}

// CorruptError reports a stored blob that could not be decoded. Raw holds the
// value as it was found so nothing is lost.
type CorruptError struct {
	Key string
	Raw string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt value under %q: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Load decodes the blob stored under key into v. It reports false when the
// key is absent. Undecodable blobs yield a *CorruptError.
func Load(r kv.Reader, c seal.Codec, key string, v any) (bool, error) {
	raw, ok, err := r.Get(key)
	if err != nil || !ok {
		return false, err
	}
	plain, err := c.Decode(raw)
	if err != nil {
		return false, &CorruptError{Key: key, Raw: raw, Err: err}
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return false, &CorruptError{Key: key, Raw: raw, Err: err}
	}
	return true, nil
}

// Save encodes v and stores it under key.
func Save(w kv.Writer, c seal.Codec, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %q: %w", key, err)
	}
	out, err := c.Encode(data)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return w.Set(key, out)
}

// Quarantine copies a corrupt blob to <key>.corrupt and logs it.
func Quarantine(w kv.Writer, ce *CorruptError) error {
	obs.Log(obs.LevelWarn, "corrupt blob quarantined", map[string]any{
		"key":    ce.Key,
		"backup": ce.Key + CorruptSuffix,
		"err":    ce.Err,
	})
	return w.Set(ce.Key+CorruptSuffix, ce.Raw)
}

// Salvage quarantines err when it is a *CorruptError and reports whether it
// did. Other errors are returned unchanged.
func Salvage(w kv.Writer, err error) (bool, error) {
	var ce *CorruptError
	if !errors.As(err, &ce) {
		return false, err
	}
	if qerr := Quarantine(w, ce); qerr != nil {
		return false, qerr
	}
	return true, nil
}
