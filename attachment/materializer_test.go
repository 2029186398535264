package attachment

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/deliverycore/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMaterializer(t *testing.T, store *memoryStore, secrets SecretSource, opts ...MaterializerOption) (*Materializer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "plain")
	opts = append([]MaterializerOption{WithTempDir(dir)}, opts...)
	return NewMaterializer(store, secrets, opts...), dir
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestMaterializeSuccess(t *testing.T) {
	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "image/jpeg")
	secrets := newStaticSecrets(0x5a)
	m, dir := newTestMaterializer(t, store, secrets)

	loc := Locator{UniqueID: testID.UniqueID, RowID: testID.RowID}
	f, err := m.Materialize(context.Background(), loc)
	require.NoError(t, err)
	defer f.Close()

	_, statErr := os.Stat(f.Name())
	assert.True(t, os.IsNotExist(statErr), "plaintext path must be unlinked before return")
	assert.Empty(t, dirEntries(t, dir))

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, testPlaintext, string(data))
	assert.Equal(t, int64(len(testPlaintext)), f.Size())
	assert.Equal(t, "image/jpeg", f.ContentType())
	assert.Equal(t, 1, store.closeCount(), "decrypted stream must be closed")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	assert.Equal(t, byte(0x5a), store.lastKey[0])
	for _, issued := range secrets.issued {
		assert.True(t, issued.IsZero(), "secret copy must be wiped")
	}
}

func TestMaterializeLocked(t *testing.T) {
	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m, dir := newTestMaterializer(t, store, &staticSecrets{})

	f, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	assert.ErrorIs(t, err, ErrLocked)
	assert.Nil(t, f)
	assert.Equal(t, 0, store.opened, "no decryption attempted while locked")
	assert.Empty(t, dirEntries(t, dir))
}

func TestMaterializeMissing(t *testing.T) {
	store := newMemoryStore()
	m, dir := newTestMaterializer(t, store, newStaticSecrets(1))

	_, err := m.Materialize(context.Background(), Locator{UniqueID: 1, RowID: 1})
	assert.ErrorIs(t, err, ErrAttachmentMissing)
	assert.NotErrorIs(t, err, ErrIoFailure)
	assert.Empty(t, dirEntries(t, dir))
}

func TestMaterializeStoreOpenFailure(t *testing.T) {
	cause := errors.New("ciphertext corrupt")
	store := newMemoryStore()
	store.openErr = cause
	m, _ := newTestMaterializer(t, store, newStaticSecrets(1))

	_, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	assert.ErrorIs(t, err, ErrIoFailure)
	assert.ErrorIs(t, err, cause)
}

func TestMaterializeCopyFailureRemovesTempFile(t *testing.T) {
	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	store.failAfter = 10
	m, dir := newTestMaterializer(t, store, newStaticSecrets(1), WithBufferSize(4))

	_, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	assert.ErrorIs(t, err, ErrIoFailure)
	assert.ErrorIs(t, err, errStreamBroken)
	assert.Empty(t, dirEntries(t, dir), "partial plaintext must be deleted")
	assert.Equal(t, 1, store.closeCount())
}

func TestMaterializeTooLarge(t *testing.T) {
	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m, dir := newTestMaterializer(t, store, newStaticSecrets(1), WithMaxSize(8))

	_, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	assert.ErrorIs(t, err, ErrIoFailure)
	assert.Empty(t, dirEntries(t, dir))
}

func TestMaterializeTightensExistingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "loose")
	require.NoError(t, os.Mkdir(dir, 0o755))

	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m := NewMaterializer(store, newStaticSecrets(1), WithTempDir(dir))

	f, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestMaterializeRejectsNonDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m := NewMaterializer(store, newStaticSecrets(1), WithTempDir(path))

	_, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	assert.ErrorIs(t, err, ErrIoFailure)
}

func TestMaterializeRejectsForeignOwnedDir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() != 0 {
		t.Skip("changing a directory's owner needs root")
	}
	dir := filepath.Join(t.TempDir(), "foreign")
	require.NoError(t, os.Mkdir(dir, 0o700))
	require.NoError(t, os.Chown(dir, 4242, 4242))

	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m := NewMaterializer(store, newStaticSecrets(1), WithTempDir(dir))

	_, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	assert.ErrorIs(t, err, ErrIoFailure)
	assert.Contains(t, err.Error(), "owned by another user")
	assert.Empty(t, dirEntries(t, dir))
}

func TestOwnedByCurrentUser(t *testing.T) {
	info, err := os.Stat(t.TempDir())
	require.NoError(t, err)
	assert.True(t, ownedByCurrentUser(info))
}

func TestDefaultTempDirUsesUserCache(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CACHE_HOME is only honoured on linux")
	}
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)

	assert.Equal(t, filepath.Join(cache, "deliverycore", "plaintext"), DefaultTempDir())
}

func TestMaterializeConcurrentRequestsGetDistinctFiles(t *testing.T) {
	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m, dir := newTestMaterializer(t, store, newStaticSecrets(1))

	const n = 8
	var wg sync.WaitGroup
	names := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
			if !assert.NoError(t, err) {
				return
			}
			defer f.Close()
			names[i] = f.Name()
			data, err := io.ReadAll(f)
			assert.NoError(t, err)
			assert.Equal(t, testPlaintext, string(data))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(t, seen[name], "temp names must be unique")
		seen[name] = true
	}
	assert.Empty(t, dirEntries(t, dir))
}

func TestResolveContentType(t *testing.T) {
	store := newMemoryStore()
	store.put(ID{UniqueID: 1, RowID: 1}, []byte("x"), "audio/ogg")
	store.put(ID{UniqueID: 2, RowID: 2}, []byte("x"), "")
	m, _ := newTestMaterializer(t, store, newStaticSecrets(1))

	ct, ok := m.ResolveContentType(context.Background(), Locator{UniqueID: 1, RowID: 1, Extension: "note.png"})
	assert.True(t, ok)
	assert.Equal(t, "audio/ogg", ct, "recorded type wins")

	ct, ok = m.ResolveContentType(context.Background(), Locator{UniqueID: 2, RowID: 2, Extension: "photo.PNG"})
	assert.True(t, ok)
	assert.Equal(t, "image/png", ct)

	_, ok = m.ResolveContentType(context.Background(), Locator{UniqueID: 2, RowID: 2})
	assert.False(t, ok)

	_, ok = m.ResolveContentType(context.Background(), Locator{UniqueID: 9, RowID: 9, Extension: "photo.png"})
	assert.False(t, ok, "deleted attachments have no type")
}

func TestMaterializeStateObserver(t *testing.T) {
	d := notify.NewDispatcher()
	defer d.Close()

	var mu sync.Mutex
	var states []State
	observer := func(_ Locator, s State, _ error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}
	snapshot := func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}

	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "")
	m, _ := newTestMaterializer(t, store, newStaticSecrets(1), WithDispatcher(d), WithStateObserver(observer))

	f, err := m.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	want := []State{StateUnlocked, StateMaterializing, StateDelivered}
	assert.Eventually(t, func() bool { return len(snapshot()) == len(want) }, testAsyncWait, time.Millisecond)
	assert.Equal(t, want, snapshot())

	locked, _ := newTestMaterializer(t, store, &staticSecrets{}, WithStateObserver(observer))
	_, err = locked.Materialize(context.Background(), Locator{UniqueID: 7, RowID: 42})
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, StateLocked, snapshot()[len(want)])
}

func TestMaterializeAsync(t *testing.T) {
	d := notify.NewDispatcher()
	defer d.Close()

	store := newMemoryStore()
	store.put(testID, []byte(testPlaintext), "text/plain")
	m, _ := newTestMaterializer(t, store, newStaticSecrets(1), WithDispatcher(d))

	type result struct {
		data string
		err  error
	}
	done := make(chan result, 1)
	m.MaterializeAsync(context.Background(), Locator{UniqueID: 7, RowID: 42}, func(f *TransientPlaintextFile, err error) {
		if err != nil {
			done <- result{err: err}
			return
		}
		defer f.Close()
		var sb strings.Builder
		_, err = io.Copy(&sb, f)
		done <- result{data: sb.String(), err: err}
	})

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, testPlaintext, r.data)
	case <-time.After(testAsyncWait):
		t.Fatal("async materialization did not complete")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "locked", StateLocked.String())
	assert.Equal(t, "delivered", StateDelivered.String())
	assert.Equal(t, "State(9)", State(9).String())
}
