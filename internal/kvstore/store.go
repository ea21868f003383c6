// Package kvstore implements core.KeyValueStore: a typed get/set/remove
// accessor over a fixed small set of keys, backed by one JSON file per
// key on local disk.
package kvstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/eventcore/sdk-core/internal/core"
	"github.com/eventcore/sdk-core/internal/nobackup"
)

// Store is a file-per-key implementation of core.KeyValueStore.
//
// All public methods are safe for concurrent use.
type Store struct {
	dir    string
	prefix string
	log    *log.Logger

	mu sync.RWMutex
}

// Open ensures dir exists and returns a Store rooted at it. prefix is the
// fixed string prefix used to name each key's file, e.g. "eventcore.";
// pass "" to name files by bare key.
func Open(dir, prefix string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[KVSTORE] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create dir: %w", err)
	}
	nobackup.Mark(dir)
	return &Store{dir: dir, prefix: prefix, log: logger}, nil
}

func (s *Store) pathFor(key core.StoreKey) string {
	return filepath.Join(s.dir, s.prefix+string(key))
}

// legacyScalarEnvelope is the one-entry-object shape readers accept for
// scalar values, for compatibility with writers that wrap a scalar as
// {"<key>": <value>}.
type legacyScalarEnvelope = map[string]json.RawMessage

func (s *Store) readRaw(key core.StoreKey) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		return nil, false
	}
	if !json.Valid(data) {
		s.log.Printf("get %q: unparseable file, treating as absent", key)
		return nil, false
	}
	return json.RawMessage(data), true
}

// unwrapScalar accepts either a bare JSON scalar or the legacy
// one-entry-object-keyed-by-key's-own-name shape.
func unwrapScalar(key core.StoreKey, raw json.RawMessage) json.RawMessage {
	var env legacyScalarEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if v, ok := env[string(key)]; ok && len(env) == 1 {
			return v
		}
	}
	return raw
}

func (s *Store) writeRaw(key core.StoreKey, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(key)
	if err := writeFileAtomic(path, raw); err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	nobackup.Mark(path)
	return nil
}

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}

// GetString returns the stored string for key, or ("", false) if absent
// or unparseable as a string.
func (s *Store) GetString(key core.StoreKey) (string, bool) {
	raw, ok := s.readRaw(key)
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(unwrapScalar(key, raw), &v); err != nil {
		return "", false
	}
	return v, true
}

func (s *Store) SetString(key core.StoreKey, value string) error {
	raw, _ := json.Marshal(value)
	return s.writeRaw(key, raw)
}

func (s *Store) GetNumber(key core.StoreKey) (float64, bool) {
	raw, ok := s.readRaw(key)
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(unwrapScalar(key, raw), &v); err != nil {
		return 0, false
	}
	return v, true
}

func (s *Store) SetNumber(key core.StoreKey, value float64) error {
	raw, _ := json.Marshal(value)
	return s.writeRaw(key, raw)
}

func (s *Store) GetBool(key core.StoreKey) (bool, bool) {
	raw, ok := s.readRaw(key)
	if !ok {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(unwrapScalar(key, raw), &v); err != nil {
		return false, false
	}
	return v, true
}

func (s *Store) SetBool(key core.StoreKey, value bool) error {
	raw, _ := json.Marshal(value)
	return s.writeRaw(key, raw)
}

func (s *Store) GetDict(key core.StoreKey) (map[string]any, bool) {
	raw, ok := s.readRaw(key)
	if !ok {
		return nil, false
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (s *Store) SetDict(key core.StoreKey, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return s.writeRaw(key, raw)
}

func (s *Store) GetArray(key core.StoreKey) ([]any, bool) {
	raw, ok := s.readRaw(key)
	if !ok {
		return nil, false
	}
	var v []any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (s *Store) SetArray(key core.StoreKey, value []any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return s.writeRaw(key, raw)
}

// Remove deletes the key's file. Removing an already-absent key is not an
// error.
func (s *Store) Remove(key core.StoreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kvstore: remove %q: %w", key, err)
	}
	return nil
}

// Reset wipes all keys and recreates the root directory.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("kvstore: reset: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("kvstore: reset: recreate: %w", err)
	}
	nobackup.Mark(s.dir)
	return nil
}

var _ core.KeyValueStore = (*Store)(nil)
