package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// lockRetryDelay is how often a contended file lock is retried.
const lockRetryDelay = 10 * time.Millisecond

// jsonFile is a JSON document guarded by a process-wide mutex and a
// cross-process file lock. The flock alone does not exclude goroutines that
// share one Flock value.
type jsonFile struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func newJSONFile(path string) *jsonFile {
	return &jsonFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// withLock runs fn while holding both locks.
func (f *jsonFile) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", filepath.Base(f.path), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", filepath.Base(f.path))
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "jsonFile.withLock",
				"path":     f.path,
				"error":    err.Error(),
			}).Warn("Failed to release file lock")
		}
	}()

	return fn()
}

// load decodes the document into v. A missing file leaves v untouched.
func (f *jsonFile) load(v any) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(f.path), err)
	}
	return nil
}

// save atomically replaces the document with v.
func (f *jsonFile) save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(f.path), err)
	}
	return writeFileAtomic(f.path, data)
}

// view loads the document under the lock.
func (f *jsonFile) view(ctx context.Context, v any) error {
	return f.withLock(ctx, func() error {
		return f.load(v)
	})
}

// update loads the document into v, applies mutate and saves the result
// when mutate reports a change.
func (f *jsonFile) update(ctx context.Context, v any, mutate func() (bool, error)) error {
	return f.withLock(ctx, func() error {
		if err := f.load(v); err != nil {
			return err
		}
		changed, err := mutate()
		if err != nil || !changed {
			return err
		}
		return f.save(v)
	})
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path. The result has mode 0600.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cause
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ensureDir creates dir with mode 0700.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
