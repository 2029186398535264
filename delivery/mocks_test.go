package delivery

import (
	"context"
	"errors"
	"sync"
)

// memoryStore is an in-memory MessageStore for testing.
type memoryStore struct {
	mu       sync.Mutex
	messages map[MessageID]*Message
	order    []MessageID

	// hook runs inside RemoveNetworkFailure before mutating, for race tests.
	removeHook func(id MessageID)
	failMark   error
}

func newMemoryStore(msgs ...*Message) *memoryStore {
	s := &memoryStore{messages: make(map[MessageID]*Message)}
	for _, m := range msgs {
		s.put(m)
	}
	return s
}

func (s *memoryStore) put(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.messages[m.ID] = m.Clone()
}

func (s *memoryStore) get(id MessageID) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Clone()
}

func (s *memoryStore) Message(_ context.Context, id MessageID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *memoryStore) RemoveNetworkFailure(_ context.Context, id MessageID, r RecipientID) error {
	if s.removeHook != nil {
		s.removeHook(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	kept := m.Failures.Network[:0]
	for _, nf := range m.Failures.Network {
		if nf.RecipientID != r {
			kept = append(kept, nf)
		}
	}
	m.Failures.Network = kept
	return nil
}

func (s *memoryStore) RemoveIdentityMismatch(_ context.Context, id MessageID, r RecipientID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, ErrMessageNotFound
	}
	removed := false
	kept := m.Failures.Mismatches[:0]
	for _, mm := range m.Failures.Mismatches {
		if mm.RecipientID == r {
			removed = true
			continue
		}
		kept = append(kept, mm)
	}
	m.Failures.Mismatches = kept
	return removed, nil
}

func (s *memoryStore) setStatus(id MessageID, status MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Status = status
	return nil
}

func (s *memoryStore) MarkPending(_ context.Context, id MessageID) error {
	return s.setStatus(id, StatusPending)
}

func (s *memoryStore) MarkSecure(_ context.Context, id MessageID) error {
	if s.failMark != nil {
		return s.failMark
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Secure = true
	return nil
}

func (s *memoryStore) MarkSent(_ context.Context, id MessageID) error {
	return s.setStatus(id, StatusSent)
}

func (s *memoryStore) MessagesInThread(_ context.Context, thread ThreadID) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, id := range s.order {
		if m := s.messages[id]; m.ThreadID == thread {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// memoryDirectory is an in-memory RecipientDirectory for testing.
type memoryDirectory struct {
	mu      sync.Mutex
	seen    map[RecipientID]bool
	setErr  error
	readErr error
	sets    int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{seen: make(map[RecipientID]bool)}
}

func (d *memoryDirectory) Preference(_ context.Context, r RecipientID) (Preference, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return Preference{}, d.readErr
	}
	return Preference{SeenUnregistered: d.seen[r]}, nil
}

func (d *memoryDirectory) SetSeenUnregistered(_ context.Context, rs []RecipientID, seen bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setErr != nil {
		return d.setErr
	}
	d.sets++
	for _, r := range rs {
		d.seen[r] = seen
	}
	return nil
}

// senderCall records one MessageSender invocation.
type senderCall struct {
	op        string
	message   MessageID
	recipient RecipientID
	key       []byte
}

// mockSender records calls and optionally fails them.
type mockSender struct {
	mu      sync.Mutex
	calls   []senderCall
	failErr error
	// block, when set, is waited on inside every call.
	block chan struct{}
}

func (s *mockSender) record(c senderCall) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	return s.failErr
}

func (s *mockSender) Resend(_ context.Context, id MessageID) error {
	return s.record(senderCall{op: "resend", message: id})
}

func (s *mockSender) ResendToRecipient(_ context.Context, id MessageID, r RecipientID) error {
	return s.record(senderCall{op: "resend_to_recipient", message: id, recipient: r})
}

func (s *mockSender) TrustIdentity(_ context.Context, r RecipientID, key []byte) error {
	return s.record(senderCall{op: "trust", recipient: r, key: append([]byte(nil), key...)})
}

func (s *mockSender) getCalls() []senderCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]senderCall(nil), s.calls...)
}

var errUnreachable = errors.New("relay unreachable")

func recipientPtr(r RecipientID) *RecipientID {
	return &r
}
