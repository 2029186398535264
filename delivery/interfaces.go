package delivery

import "context"

// MessageStore is the subset of the message database the resolver needs.
// Every mutation must be an atomic read-modify-write at the store boundary,
// and removals of absent entries must succeed as no-ops.
type MessageStore interface {
	// Message returns a snapshot of the message, or ErrMessageNotFound.
	Message(ctx context.Context, id MessageID) (*Message, error)
	// RemoveNetworkFailure drops recipient's network failure from the message.
	RemoveNetworkFailure(ctx context.Context, id MessageID, recipient RecipientID) error
	// RemoveIdentityMismatch drops recipient's identity mismatch and reports
	// whether an entry was present.
	RemoveIdentityMismatch(ctx context.Context, id MessageID, recipient RecipientID) (bool, error)
	// MarkPending returns the message to the pending state before a resend.
	MarkPending(ctx context.Context, id MessageID) error
	// MarkSecure flags the message as sent over a secure session.
	MarkSecure(ctx context.Context, id MessageID) error
	// MarkSent flags the message as sent.
	MarkSent(ctx context.Context, id MessageID) error
	// MessagesInThread returns snapshots of every message in the thread.
	MessagesInThread(ctx context.Context, thread ThreadID) ([]*Message, error)
}

// Preference is a recipient's persisted notification preference.
type Preference struct {
	SeenUnregistered bool
}

// RecipientDirectory provides recipient preferences.
type RecipientDirectory interface {
	// Preference returns the recipient's preference. Unknown recipients
	// yield the zero Preference.
	Preference(ctx context.Context, recipient RecipientID) (Preference, error)
	// SetSeenUnregistered persists the flag for every listed recipient.
	SetSeenUnregistered(ctx context.Context, recipients []RecipientID, seen bool) error
}

// MessageSender is the session/transport layer.
type MessageSender interface {
	// Resend resends the whole message.
	Resend(ctx context.Context, id MessageID) error
	// ResendToRecipient resends a group message to one member.
	ResendToRecipient(ctx context.Context, id MessageID, recipient RecipientID) error
	// TrustIdentity records key as the trusted identity for recipient.
	TrustIdentity(ctx context.Context, recipient RecipientID, key []byte) error
}
