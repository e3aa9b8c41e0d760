package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lexiqai/trades-chat/internal/observability"
)

// FileStore keeps every user's history in a single JSON document
// mapping user id to turns. A missing or unparsable document is an empty
// store; any other read failure is returned so a write never replaces
// history it could not see.
type FileStore struct {
	path     string
	maxTurns int
	readFile func(name string) ([]byte, error)

	// mu serializes whole-document read-modify-write cycles across users
	mu sync.Mutex
}

// NewFileStore creates a file-backed store, creating the parent directory if needed
func NewFileStore(path string, maxTurns int) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &FileStore{path: path, maxTurns: maxTurns, readFile: os.ReadFile}, nil
}

// Load returns the stored turns for userID
func (s *FileStore) Load(ctx context.Context, userID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return Window(doc[userID], s.maxTurns), nil
}

// Save replaces the stored turns for userID
func (s *FileStore) Save(ctx context.Context, userID string, turns []Turn) error {
	return s.update(ctx, userID, func([]Turn) []Turn { return turns })
}

// Append adds turns after the stored history for userID
func (s *FileStore) Append(ctx context.Context, userID string, turns ...Turn) error {
	return s.update(ctx, userID, func(current []Turn) []Turn {
		return append(current, turns...)
	})
}

func (s *FileStore) update(ctx context.Context, userID string, fn func(current []Turn) []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	doc[userID] = Window(fn(doc[userID]), s.maxTurns)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return s.writeAtomic(data)
}

// Ping checks that the history directory is still reachable
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("history directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("history directory is not a directory: %s", filepath.Dir(s.path))
	}
	return nil
}

// Close is a no-op; the document is rewritten on every save
func (s *FileStore) Close() error {
	return nil
}

// read must be called with mu held
func (s *FileStore) read(ctx context.Context) (map[string][]Turn, error) {
	doc := make(map[string][]Turn)

	data, err := s.readFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		observability.FromContext(ctx).Warn().Err(err).Str("path", s.path).Msg("History file is corrupt, starting empty")
		return make(map[string][]Turn), nil
	}
	return doc, nil
}
func (s *FileStore) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}
