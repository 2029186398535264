package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opd-ai/deliverycore/crypto"
)

// memoryStore is an in-memory Store for testing.
type memoryStore struct {
	mu           sync.Mutex
	blobs        map[ID][]byte
	contentTypes map[ID]string
	openErr      error
	// failAfter, when positive, makes the stream fail after that many bytes.
	failAfter int
	opened    int
	closed    int
	lastKey   [crypto.MasterKeySize]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		blobs:        make(map[ID][]byte),
		contentTypes: make(map[ID]string),
	}
}

func (s *memoryStore) put(id ID, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = append([]byte(nil), data...)
	if contentType != "" {
		s.contentTypes[id] = contentType
	}
}

func (s *memoryStore) OpenDecryptedStream(_ context.Context, secret *crypto.MasterSecret, id ID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	data, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentMissing, id)
	}
	s.opened++
	s.lastKey = *secret.Key()

	var r io.Reader = bytes.NewReader(data)
	if s.failAfter > 0 {
		r = &failingReader{r: io.LimitReader(r, int64(s.failAfter))}
	}
	return &countingCloser{Reader: r, store: s}, nil
}

func (s *memoryStore) ContentType(_ context.Context, id ID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return "", false
	}
	return s.contentTypes[id], true
}

func (s *memoryStore) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type countingCloser struct {
	io.Reader
	store *memoryStore
}

func (c *countingCloser) Close() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.closed++
	return nil
}

var errStreamBroken = errors.New("stream broken")

// failingReader returns errStreamBroken once r is exhausted.
type failingReader struct {
	r io.Reader
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, errStreamBroken
	}
	return n, err
}

// staticSecrets is a SecretSource returning a copy of a fixed secret.
type staticSecrets struct {
	mu     sync.Mutex
	secret *crypto.MasterSecret
	calls  int
	issued []*crypto.MasterSecret
}

func newStaticSecrets(fill byte) *staticSecrets {
	var key [crypto.MasterKeySize]byte
	for i := range key {
		key[i] = fill
	}
	return &staticSecrets{secret: crypto.NewMasterSecret(key)}
}

func (s *staticSecrets) CurrentUnlockedSecret() (*crypto.MasterSecret, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.secret == nil {
		return nil, false
	}
	c := s.secret.Clone()
	s.issued = append(s.issued, c)
	return c, true
}
