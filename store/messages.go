package store

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/opd-ai/deliverycore/delivery"
	"github.com/sirupsen/logrus"
)

// MessagesFileName is the message document inside the data directory.
const MessagesFileName = "messages.json"

type messageDocument struct {
	Messages map[delivery.MessageID]*delivery.Message `json:"messages"`
}

func (d *messageDocument) get(id delivery.MessageID) (*delivery.Message, error) {
	m, ok := d.Messages[id]
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: %d", delivery.ErrMessageNotFound, id)
	}
	return m, nil
}

// MessageStore is a file-backed delivery.MessageStore. Every mutation is an
// atomic read-modify-write of the whole document.
type MessageStore struct {
	file *jsonFile
}

var _ delivery.MessageStore = (*MessageStore)(nil)

// NewMessageStore opens the message document in dataDir, creating the
// directory if needed.
func NewMessageStore(dataDir string) (*MessageStore, error) {
	if err := ensureDir(dataDir); err != nil {
		return nil, err
	}
	return &MessageStore{file: newJSONFile(filepath.Join(dataDir, MessagesFileName))}, nil
}

// mutate applies fn to message id and saves the document when fn reports a
// change.
func (s *MessageStore) mutate(ctx context.Context, id delivery.MessageID, fn func(m *delivery.Message) bool) error {
	var doc messageDocument
	return s.file.update(ctx, &doc, func() (bool, error) {
		m, err := doc.get(id)
		if err != nil {
			return false, err
		}
		return fn(m), nil
	})
}

// Message returns a snapshot of message id.
func (s *MessageStore) Message(ctx context.Context, id delivery.MessageID) (*delivery.Message, error) {
	var doc messageDocument
	if err := s.file.view(ctx, &doc); err != nil {
		return nil, err
	}
	m, err := doc.get(id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// List returns every message ordered by ID.
func (s *MessageStore) List(ctx context.Context) ([]*delivery.Message, error) {
	var doc messageDocument
	if err := s.file.view(ctx, &doc); err != nil {
		return nil, err
	}
	return sortedMessages(doc.Messages, func(*delivery.Message) bool { return true }), nil
}

// MessagesInThread returns the messages of thread ordered by ID.
func (s *MessageStore) MessagesInThread(ctx context.Context, thread delivery.ThreadID) ([]*delivery.Message, error) {
	var doc messageDocument
	if err := s.file.view(ctx, &doc); err != nil {
		return nil, err
	}
	return sortedMessages(doc.Messages, func(m *delivery.Message) bool { return m.ThreadID == thread }), nil
}

func sortedMessages(all map[delivery.MessageID]*delivery.Message, keep func(*delivery.Message) bool) []*delivery.Message {
	out := make([]*delivery.Message, 0, len(all))
	for _, m := range all {
		if m != nil && keep(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put inserts or replaces msg.
func (s *MessageStore) Put(ctx context.Context, msg *delivery.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	var doc messageDocument
	err := s.file.update(ctx, &doc, func() (bool, error) {
		if doc.Messages == nil {
			doc.Messages = make(map[delivery.MessageID]*delivery.Message)
		}
		doc.Messages[msg.ID] = msg.Clone()
		return true, nil
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "MessageStore.Put",
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
	}).Debug("Message stored")
	return nil
}

// RemoveNetworkFailure removes r's network failure. Removing an absent
// entry is not an error.
func (s *MessageStore) RemoveNetworkFailure(ctx context.Context, id delivery.MessageID, r delivery.RecipientID) error {
	return s.mutate(ctx, id, func(m *delivery.Message) bool {
		kept := m.Failures.Network[:0]
		for _, nf := range m.Failures.Network {
			if nf.RecipientID != r {
				kept = append(kept, nf)
			}
		}
		changed := len(kept) != len(m.Failures.Network)
		m.Failures.Network = kept
		return changed
	})
}

// RemoveIdentityMismatch removes r's identity mismatch and reports whether
// one was present.
func (s *MessageStore) RemoveIdentityMismatch(ctx context.Context, id delivery.MessageID, r delivery.RecipientID) (bool, error) {
	removed := false
	err := s.mutate(ctx, id, func(m *delivery.Message) bool {
		kept := m.Failures.Mismatches[:0]
		for _, mm := range m.Failures.Mismatches {
			if mm.RecipientID == r {
				removed = true
				continue
			}
			kept = append(kept, mm)
		}
		m.Failures.Mismatches = kept
		return removed
	})
	return removed, err
}

// AddNetworkFailure records a network failure for r. An existing entry is
// kept.
func (s *MessageStore) AddNetworkFailure(ctx context.Context, id delivery.MessageID, r delivery.RecipientID) error {
	return s.mutate(ctx, id, func(m *delivery.Message) bool {
		if _, ok := m.Failures.NetworkFor(r); ok {
			return false
		}
		m.Failures.Network = append(m.Failures.Network, delivery.NetworkFailure{RecipientID: r})
		return true
	})
}

// AddIdentityMismatch records that r presented key. A previous mismatch for
// r is replaced.
func (s *MessageStore) AddIdentityMismatch(ctx context.Context, id delivery.MessageID, r delivery.RecipientID, key []byte) error {
	return s.mutate(ctx, id, func(m *delivery.Message) bool {
		for i, mm := range m.Failures.Mismatches {
			if mm.RecipientID == r {
				if bytes.Equal(mm.IdentityKey, key) {
					return false
				}
				m.Failures.Mismatches[i].IdentityKey = append([]byte(nil), key...)
				return true
			}
		}
		m.Failures.Mismatches = append(m.Failures.Mismatches, delivery.IdentityKeyMismatch{
			RecipientID: r,
			IdentityKey: append([]byte(nil), key...),
		})
		return true
	})
}

// AddUnregistered records that r is no longer registered.
func (s *MessageStore) AddUnregistered(ctx context.Context, id delivery.MessageID, r delivery.RecipientID) error {
	return s.mutate(ctx, id, func(m *delivery.Message) bool {
		if _, ok := m.Failures.UnregisteredFor(r); ok {
			return false
		}
		m.Failures.Unregistered = append(m.Failures.Unregistered, delivery.UnregisteredUser{RecipientID: r})
		return true
	})
}

func (s *MessageStore) setStatus(ctx context.Context, id delivery.MessageID, status delivery.MessageStatus) error {
	return s.mutate(ctx, id, func(m *delivery.Message) bool {
		if m.Status == status {
			return false
		}
		m.Status = status
		return true
	})
}

// MarkPending sets the status to pending.
func (s *MessageStore) MarkPending(ctx context.Context, id delivery.MessageID) error {
	return s.setStatus(ctx, id, delivery.StatusPending)
}

// MarkSent sets the status to sent.
func (s *MessageStore) MarkSent(ctx context.Context, id delivery.MessageID) error {
	return s.setStatus(ctx, id, delivery.StatusSent)
}

// MarkFailed sets the status to failed.
func (s *MessageStore) MarkFailed(ctx context.Context, id delivery.MessageID) error {
	return s.setStatus(ctx, id, delivery.StatusFailed)
}

// MarkSecure flags the message as sent over an authenticated session.
func (s *MessageStore) MarkSecure(ctx context.Context, id delivery.MessageID) error {
	return s.mutate(ctx, id, func(m *delivery.Message) bool {
		if m.Secure {
			return false
		}
		m.Secure = true
		return true
	})
}
