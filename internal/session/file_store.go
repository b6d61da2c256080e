package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"contactbot/core/logger"
	"log/slog"
)

// FileStore persists the token mapping as a single JSON object
// (string-encoded user id → serialized session token).
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// SaveAll writes the complete mapping, replacing prior contents. The write
// goes to a temp file in the same directory followed by a rename so a crash
// mid-write cannot corrupt the store.
func (s *FileStore) SaveAll(_ context.Context, tokens map[int64]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := make(map[string]string, len(tokens))
	for userID, token := range tokens {
		encoded[strconv.FormatInt(userID, 10)] = token
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("session: encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("session: create temp store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: close temp store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session: replace store: %w", err)
	}
	return nil
}

// LoadAll reads the mapping. A missing or corrupt file is treated as an
// empty store, not a fatal error.
func (s *FileStore) LoadAll(_ context.Context) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]string{}, nil
		}
		return nil, fmt.Errorf("session: read store: %w", err)
	}

	var encoded map[string]string
	if err := json.Unmarshal(data, &encoded); err != nil {
		logger.SVCSessions.Warn("session store unreadable, starting empty",
			slog.String("event", "load"),
			slog.String("path", s.path),
			slog.String("err", err.Error()),
		)
		return map[int64]string{}, nil
	}

	tokens := make(map[int64]string, len(encoded))
	for key, token := range encoded {
		userID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.SVCSessions.Warn("skipping malformed store key",
				slog.String("event", "load"),
				slog.String("key", key),
			)
			continue
		}
		tokens[userID] = token
	}
	return tokens, nil
}
