// Package storage provides file-based JSON document storage with atomic writes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage stores JSON documents below a base directory. A key is a path
// slice mapped to <base>/<k1>/.../<kn>.json.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// Path returns the file backing a key.
func (s *Storage) Path(key []string) string {
	parts := append([]string{s.basePath}, key...)
	return filepath.Join(parts...) + ".json"
}

// GetRaw returns the raw bytes stored under key.
func (s *Storage) GetRaw(ctx context.Context, key []string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Get retrieves a value from storage.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	data, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Put stores a value in storage with file locking.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	filePath := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	return writeAtomic(filePath, v)
}

// Update performs a read-modify-write of the document under key while
// holding the lock. fn receives the current bytes, or nil when the document
// does not exist yet, and returns the value to store.
func (s *Storage) Update(ctx context.Context, key []string, fn func(current []byte) (any, error)) error {
	filePath := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	current, err := os.ReadFile(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read file: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	return writeAtomic(filePath, next)
}

// Exists checks if a document exists.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

func writeAtomic(filePath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// getLock returns a file lock for a path.
func (s *Storage) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}

	return lock
}
