package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errLocked = errors.New("lock held")

// FileLock combines an in-process mutex with an flock on <path>.lock so that
// both goroutines and other processes are excluded.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a new file lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the lock, retrying with exponential backoff until it succeeds
// or ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		ok, err := l.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLocked
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// TryLock attempts to acquire the lock without blocking. An error is returned
// only when the lock file cannot be opened.
func (l *FileLock) TryLock() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}

	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return false, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		l.mu.Unlock()
		return false, nil
	}

	l.file = f
	return true, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()

	l.file = nil
	l.mu.Unlock()

	return err
}
