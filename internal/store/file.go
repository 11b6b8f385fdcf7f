package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "postpilot/pkg/logx"
)

// fileStore keeps the whole KV map in memory and writes a JSON snapshot
// through a temp-file rename on every Put/Delete. State blobs are small
// (queue + rate windows), so write-through is cheap and crash-safe.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	data map[string][]byte
}

type fileSnapshot struct {
	Entries map[string]string `json:"entries"` // base64 values
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, data: map[string][]byte{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		// A torn snapshot should not brick startup; start empty.
		s.log.Warn("state snapshot unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		return nil
	}
	for k, v := range snap.Entries {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			continue
		}
		s.data[k] = raw
	}
	return nil
}

func (s *fileStore) flushLocked() error {
	snap := fileSnapshot{Entries: make(map[string]string, len(s.data))}
	for k, v := range s.data {
		snap.Entries[k] = base64.StdEncoding.EncodeToString(v)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Put(ctx context.Context, key string, value []byte) error {
	_ = ctx
	if strings.TrimSpace(key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrDisabled
	}
	s.data[key] = append([]byte(nil), value...)
	return s.flushLocked()
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
