package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const journalFile = "journal.json"

// FileStore keeps one file per key under dir/keys. Multi-key transactions are
// written to a journal first and replayed on open if a crash interrupted them.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// journalOp is one pending write. A nil Value removes the key.
type journalOp struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// OpenFile opens (creating if needed) a file store rooted at dir.
func OpenFile(dir string) (*FileStore, error) {
	for _, sub := range []string{"keys", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, unavailable("creating directories", "", err)
		}
	}
	s := &FileStore{dir: dir}
	if err := s.replayJournal(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) keyPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("kv: invalid key %q", key)
	}
	return filepath.Join(s.dir, "keys", url.PathEscape(key)), nil
}

// Get implements Reader.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(key)
}

// Keys implements Reader.
func (s *FileStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(prefix)
}

// Set implements Writer.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, value)
}

// Remove implements Writer.
func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key)
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// WithTransaction runs fn against a buffered view and commits its writes
// through the journal.
func (s *FileStore) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &fileTx{s: s, pending: map[string]*string{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx.ops())
}

func (s *FileStore) read(key string) (string, bool, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("reading", key, err)
	}
	return string(data), true, nil
}

func (s *FileStore) list(prefix string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "keys"))
	if err != nil {
		return nil, unavailable("listing", prefix, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) write(key, value string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := s.atomicWrite(path, []byte(value)); err != nil {
		return unavailable("writing", key, err)
	}
	return nil
}

func (s *FileStore) remove(key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable("removing", key, err)
	}
	return nil
}

// atomicWrite writes to a temp file then renames it over path.
func (s *FileStore) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(s.dir, "tmp"), "write-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *FileStore) commit(ops []journalOp) error {
	if len(ops) == 0 {
		return nil
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("kv: encoding journal: %w", err)
	}
	journal := filepath.Join(s.dir, journalFile)
	if err := s.atomicWrite(journal, data); err != nil {
		return unavailable("writing journal", "", err)
	}
	if err := s.apply(ops); err != nil {
		// The journal stays behind and is replayed on the next open.
		return err
	}
	if err := os.Remove(journal); err != nil {
		return unavailable("clearing journal", "", err)
	}
	return nil
}

func (s *FileStore) apply(ops []journalOp) error {
	for _, op := range ops {
		var err error
		if op.Value == nil {
			err = s.remove(op.Key)
		} else {
			err = s.write(op.Key, *op.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) replayJournal() error {
	journal := filepath.Join(s.dir, journalFile)
	data, err := os.ReadFile(journal)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return unavailable("reading journal", "", err)
	}
	var ops []journalOp
	if err := json.Unmarshal(data, &ops); err != nil {
		backup := journal + ".corrupt"
		_ = os.Rename(journal, backup)
		return fmt.Errorf("kv: corrupt journal (backed up to %s): %w", backup, err)
	}
	if err := s.apply(ops); err != nil {
		return err
	}
	if err := os.Remove(journal); err != nil {
		return unavailable("clearing journal", "", err)
	}
	return nil
}

type fileTx struct {
	s       *FileStore
	pending map[string]*string
	order   []string
}

func (t *fileTx) Get(key string) (string, bool, error) {
	if v, ok := t.pending[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	return t.s.read(key)
}

func (t *fileTx) Keys(prefix string) ([]string, error) {
	onDisk, err := t.s.list(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(onDisk))
	var keys []string
	for _, k := range onDisk {
		seen[k] = true
		if v, ok := t.pending[k]; ok && v == nil {
			continue
		}
		keys = append(keys, k)
	}
	for k, v := range t.pending {
		if v != nil && !seen[k] && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *fileTx) Set(key, value string) error {
	if _, err := t.s.keyPath(key); err != nil {
		return err
	}
	t.record(key, &value)
	return nil
}

func (t *fileTx) Remove(key string) error {
	if _, err := t.s.keyPath(key); err != nil {
		return err
	}
	t.record(key, nil)
	return nil
}

func (t *fileTx) record(key string, v *string) {
	if _, seen := t.pending[key]; !seen {
		t.order = append(t.order, key)
	}
	t.pending[key] = v
}

func (t *fileTx) ops() []journalOp {
	ops := make([]journalOp, 0, len(t.order))
	for _, k := range t.order {
		ops = append(ops, journalOp{Key: k, Value: t.pending[k]})
	}
	return ops
}
