package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/deliverycore/limits"
	"github.com/opd-ai/deliverycore/notify"
	"github.com/sirupsen/logrus"
)

// State is a step of the materializer's per-request state machine.
type State uint8

const (
	// StateLocked means no master secret was available.
	StateLocked State = iota
	// StateUnlocked means the secret was obtained.
	StateUnlocked
	// StateMaterializing means plaintext is being written.
	StateMaterializing
	// StateDelivered means a handle was returned. Terminal.
	StateDelivered
	// StateFailed means the request failed. Terminal.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateMaterializing:
		return "materializing"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// StateObserver receives state transitions. err is set only for StateFailed
// and StateLocked.
type StateObserver func(loc Locator, state State, err error)

// Materializer writes decrypted attachments to read-once temporary files.
// It never caches the master secret.
type Materializer struct {
	store      Store
	secrets    SecretSource
	tempDir    string
	bufferSize int
	maxSize    int64
	dispatcher *notify.Dispatcher
	observer   StateObserver
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithTempDir sets the private directory for plaintext files.
func WithTempDir(dir string) MaterializerOption {
	return func(m *Materializer) {
		if dir != "" {
			m.tempDir = dir
		}
	}
}

// WithBufferSize sets the copy buffer size.
func WithBufferSize(n int) MaterializerOption {
	return func(m *Materializer) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// WithMaxSize sets the largest plaintext accepted.
func WithMaxSize(n int64) MaterializerOption {
	return func(m *Materializer) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithDispatcher delivers observer callbacks and async completions on d.
func WithDispatcher(d *notify.Dispatcher) MaterializerOption {
	return func(m *Materializer) {
		m.dispatcher = d
	}
}

// WithStateObserver registers fn for state transitions.
func WithStateObserver(fn StateObserver) MaterializerOption {
	return func(m *Materializer) {
		m.observer = fn
	}
}

// DefaultTempDir returns the per-user directory used when none is configured.
// It lives under the user cache directory; the shared system temp dir is
// only used when no cache directory can be determined.
func DefaultTempDir() string {
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "deliverycore", "plaintext")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("deliverycore-%d", os.Getuid()))
}

// NewMaterializer creates a materializer reading from store and gated by
// secrets.
func NewMaterializer(store Store, secrets SecretSource, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		store:      store,
		secrets:    secrets,
		tempDir:    DefaultTempDir(),
		bufferSize: limits.CopyBufferSize,
		maxSize:    limits.MaxAttachmentSize,
	}
	for _, opt := range opts {
		opt(m)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewMaterializer",
		"temp_dir":    m.tempDir,
		"buffer_size": m.bufferSize,
		"max_size":    m.maxSize,
	}).Debug("Attachment materializer created")

	return m
}

// Materialize decrypts the attachment at loc into a read-once handle. It
// fails with ErrLocked when no secret is unlocked, ErrAttachmentMissing when
// the store has no bytes and ErrIoFailure on any copy error. On failure no
// temporary file remains. The call is not cancelled by ctx.
func (m *Materializer) Materialize(ctx context.Context, loc Locator) (*TransientPlaintextFile, error) {
	ctx = context.WithoutCancel(ctx)

	fields := logrus.Fields{
		"function":      "Materialize",
		"attachment_id": loc.ID().String(),
	}

	secret, ok := m.secrets.CurrentUnlockedSecret()
	if !ok || secret.IsZero() {
		logrus.WithFields(fields).Info("Materialize refused, master secret locked")
		m.emit(loc, StateLocked, ErrLocked)
		return nil, ErrLocked
	}
	defer secret.Wipe()
	m.emit(loc, StateUnlocked, nil)

	stream, err := m.store.OpenDecryptedStream(ctx, secret, loc.ID())
	if err != nil {
		if !errors.Is(err, ErrAttachmentMissing) {
			err = fmt.Errorf("%w: open decrypted stream: %w", ErrIoFailure, err)
		}
		return nil, m.fail(loc, fields, err)
	}
	defer stream.Close()

	m.emit(loc, StateMaterializing, nil)

	f, size, err := m.writeTemp(stream)
	if err != nil {
		return nil, m.fail(loc, fields, err)
	}

	contentType, _ := m.ResolveContentType(ctx, loc)
	handle := newTransientPlaintextFile(f, f.Name(), size, contentType)

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"size":         size,
		"content_type": contentType,
	}).Info("Attachment materialized")
	m.emit(loc, StateDelivered, nil)

	return handle, nil
}

// writeTemp streams src into a new private file, reopens it read-only and
// unlinks it. The returned file has no directory entry.
func (m *Materializer) writeTemp(src io.Reader) (*os.File, int64, error) {
	if err := ensurePrivateDir(m.tempDir); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrIoFailure, err)
	}

	w, err := os.CreateTemp(m.tempDir, "plaintext-*")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create temp file: %w", ErrIoFailure, err)
	}
	name := w.Name()

	discard := func(cause error) (*os.File, int64, error) {
		_ = w.Close()
		removeQuietly(name)
		return nil, 0, cause
	}

	buf := make([]byte, m.bufferSize)
	// Hide ReadFrom so the fixed buffer is actually used.
	n, err := io.CopyBuffer(struct{ io.Writer }{w}, io.LimitReader(src, m.maxSize+1), buf)
	if err != nil {
		return discard(fmt.Errorf("%w: copy: %w", ErrIoFailure, err))
	}
	if err := limits.ValidateAttachmentSize(n, m.maxSize); err != nil {
		return discard(fmt.Errorf("%w: %w", ErrIoFailure, err))
	}
	if err := w.Close(); err != nil {
		removeQuietly(name)
		return nil, 0, fmt.Errorf("%w: close temp file: %w", ErrIoFailure, err)
	}

	r, err := os.Open(name)
	if err != nil {
		removeQuietly(name)
		return nil, 0, fmt.Errorf("%w: reopen temp file: %w", ErrIoFailure, err)
	}
	if err := os.Remove(name); err != nil {
		_ = r.Close()
		removeQuietly(name)
		return nil, 0, fmt.Errorf("%w: unlink temp file: %w", ErrIoFailure, err)
	}

	return r, n, nil
}

// ResolveContentType returns the MIME type of the attachment, falling back
// to the display name's extension. It reports false when the attachment no
// longer exists or no type is known.
func (m *Materializer) ResolveContentType(ctx context.Context, loc Locator) (string, bool) {
	contentType, exists := m.store.ContentType(ctx, loc.ID())
	if !exists {
		return "", false
	}
	if contentType != "" {
		return contentType, true
	}
	if ext := filepath.Ext(loc.Extension); ext != "" {
		if byExt := mime.TypeByExtension(strings.ToLower(ext)); byExt != "" {
			return byExt, true
		}
	}
	return "", false
}

// MaterializeAsync runs Materialize on its own goroutine and reports the
// result on the dispatcher. A handle delivered to a nil done is closed.
func (m *Materializer) MaterializeAsync(ctx context.Context, loc Locator, done func(*TransientPlaintextFile, error)) {
	go func() {
		f, err := m.Materialize(ctx, loc)
		m.post(func() {
			if done == nil {
				if f != nil {
					_ = f.Close()
				}
				return
			}
			done(f, err)
		})
	}()
}

func (m *Materializer) fail(loc Locator, fields logrus.Fields, err error) error {
	logrus.WithFields(fields).WithField("error", err.Error()).Error("Attachment materialization failed")
	m.emit(loc, StateFailed, err)
	return err
}

func (m *Materializer) emit(loc Locator, state State, err error) {
	if m.observer == nil {
		return
	}
	observer := m.observer
	m.post(func() { observer(loc, state, err) })
}

func (m *Materializer) post(fn func()) {
	if m.dispatcher != nil && m.dispatcher.Post(fn) {
		return
	}
	fn()
}

// ensurePrivateDir creates dir with mode 0700 and tightens an existing one.
// A symlink in place of the directory, or a directory owned by another user,
// is rejected.
func ensurePrivateDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	info, err := os.Lstat(dir)
	if err != nil {
		return fmt.Errorf("stat temp dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("temp dir %s is not a directory", dir)
	}
	if !ownedByCurrentUser(info) {
		return fmt.Errorf("temp dir %s is owned by another user", dir)
	}
	if info.Mode().Perm() != 0o700 {
		if err := os.Chmod(dir, 0o700); err != nil {
			return fmt.Errorf("restrict temp dir: %w", err)
		}
	}
	return nil
}

func removeQuietly(name string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function": "removeQuietly",
			"name":     name,
			"error":    err.Error(),
		}).Warn("Failed to remove partial plaintext file")
	}
}
