package delivery

import "fmt"

// RecipientID identifies an addressable participant of a message.
type RecipientID int64

// MessageID identifies a stored message.
type MessageID int64

// ThreadID identifies a conversation.
type ThreadID int64

// FailureKind enumerates the per-recipient failure conditions.
type FailureKind uint8

const (
	// FailureNone means no failure applies to the recipient.
	FailureNone FailureKind = iota
	// FailureUnregistered means the recipient is no longer a registered user.
	FailureUnregistered
	// FailureNetwork means the transport failed to deliver to the recipient.
	FailureNetwork
	// FailureIdentityMismatch means the recipient's identity key changed.
	FailureIdentityMismatch
)

// Priority orders failure kinds for classification. Higher wins.
func (k FailureKind) Priority() int {
	switch k {
	case FailureIdentityMismatch:
		return 3
	case FailureNetwork:
		return 2
	case FailureUnregistered:
		return 1
	default:
		return 0
	}
}

// Description returns the user-facing text shown next to the recipient.
func (k FailureKind) Description() string {
	switch k {
	case FailureIdentityMismatch:
		return "New identity"
	case FailureNetwork:
		return "Failed to send"
	case FailureUnregistered:
		return "No longer registered"
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureUnregistered:
		return "unregistered"
	case FailureNetwork:
		return "network"
	case FailureIdentityMismatch:
		return "identity_mismatch"
	default:
		return fmt.Sprintf("FailureKind(%d)", uint8(k))
	}
}

// FailureRecord is the sum type of per-recipient failures. It is sealed:
// only NetworkFailure, IdentityKeyMismatch and UnregisteredUser implement it.
type FailureRecord interface {
	Recipient() RecipientID
	Kind() FailureKind
	sealed()
}

// NetworkFailure is a transport-level send failure for one recipient.
type NetworkFailure struct {
	RecipientID RecipientID `json:"r"`
}

// Recipient implements FailureRecord.
func (f NetworkFailure) Recipient() RecipientID { return f.RecipientID }

// Kind implements FailureRecord.
func (NetworkFailure) Kind() FailureKind { return FailureNetwork }

func (NetworkFailure) sealed() {}

// IdentityKeyMismatch records that a recipient's identity key changed since
// the last session.
type IdentityKeyMismatch struct {
	RecipientID RecipientID `json:"r"`
	IdentityKey []byte      `json:"k"`
}

// Recipient implements FailureRecord.
func (f IdentityKeyMismatch) Recipient() RecipientID { return f.RecipientID }

// Kind implements FailureRecord.
func (IdentityKeyMismatch) Kind() FailureKind { return FailureIdentityMismatch }

func (IdentityKeyMismatch) sealed() {}

// UnregisteredUser records that a recipient is no longer registered.
type UnregisteredUser struct {
	RecipientID RecipientID `json:"r"`
}

// Recipient implements FailureRecord.
func (f UnregisteredUser) Recipient() RecipientID { return f.RecipientID }

// Kind implements FailureRecord.
func (UnregisteredUser) Kind() FailureKind { return FailureUnregistered }

func (UnregisteredUser) sealed() {}

// Failures holds a message's three failure lists.
type Failures struct {
	Network      []NetworkFailure      `json:"network,omitempty"`
	Mismatches   []IdentityKeyMismatch `json:"mismatches,omitempty"`
	Unregistered []UnregisteredUser    `json:"unregistered,omitempty"`
}

// NetworkFor returns the network failure recorded for r, if any.
func (f Failures) NetworkFor(r RecipientID) (NetworkFailure, bool) {
	for _, nf := range f.Network {
		if nf.RecipientID == r {
			return nf, true
		}
	}
	return NetworkFailure{}, false
}

// MismatchFor returns the identity mismatch recorded for r, if any.
func (f Failures) MismatchFor(r RecipientID) (IdentityKeyMismatch, bool) {
	for _, m := range f.Mismatches {
		if m.RecipientID == r {
			return m, true
		}
	}
	return IdentityKeyMismatch{}, false
}

// UnregisteredFor returns the unregistered entry recorded for r, if any.
func (f Failures) UnregisteredFor(r RecipientID) (UnregisteredUser, bool) {
	for _, u := range f.Unregistered {
		if u.RecipientID == r {
			return u, true
		}
	}
	return UnregisteredUser{}, false
}

// Clone returns a deep copy.
func (f Failures) Clone() Failures {
	c := Failures{}
	if f.Network != nil {
		c.Network = append([]NetworkFailure(nil), f.Network...)
	}
	if f.Mismatches != nil {
		c.Mismatches = make([]IdentityKeyMismatch, len(f.Mismatches))
		for i, m := range f.Mismatches {
			c.Mismatches[i] = IdentityKeyMismatch{
				RecipientID: m.RecipientID,
				IdentityKey: append([]byte(nil), m.IdentityKey...),
			}
		}
	}
	if f.Unregistered != nil {
		c.Unregistered = append([]UnregisteredUser(nil), f.Unregistered...)
	}
	return c
}

// MessageStatus is the overall delivery status of a message.
type MessageStatus uint8

const (
	// StatusPending means the message is queued or being sent.
	StatusPending MessageStatus = iota
	// StatusSent means the transport accepted the message.
	StatusSent
	// StatusDelivered means the recipient confirmed delivery.
	StatusDelivered
	// StatusFailed means the last send attempt failed.
	StatusFailed
)

// String implements fmt.Stringer.
func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("MessageStatus(%d)", uint8(s))
	}
}

// Message is a snapshot of a message's delivery state as held by the
// MessageStore. The resolver never mutates a Message directly.
type Message struct {
	ID         MessageID     `json:"id"`
	ThreadID   ThreadID      `json:"thread_id"`
	Recipients []RecipientID `json:"recipients"`
	Group      bool          `json:"group"`
	Status     MessageStatus `json:"status"`
	Secure     bool          `json:"secure"`
	Failures   Failures      `json:"failures"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Recipients = append([]RecipientID(nil), m.Recipients...)
	c.Failures = m.Failures.Clone()
	return &c
}

// Action is the remediation exposed for a classified failure.
type Action uint8

const (
	// ActionNone means no remediation is offered.
	ActionNone Action = iota
	// ActionAcceptIdentity lets the user confirm the new identity key.
	ActionAcceptIdentity
	// ActionResend resends the message.
	ActionResend
	// ActionAcknowledgeUnregistered shows the unregistered explanation once.
	ActionAcknowledgeUnregistered
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAcceptIdentity:
		return "accept-identity"
	case ActionResend:
		return "resend"
	case ActionAcknowledgeUnregistered:
		return "ack-unregistered"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// FailureView is the classification result for one recipient.
type FailureView struct {
	Kind      FailureKind
	Recipient RecipientID
	// IdentityKey is set for FailureIdentityMismatch.
	IdentityKey []byte
	// Resendable is true when the resend action applies.
	Resendable bool
	// Acknowledged is true when the user already dismissed the
	// unregistered explanation for this recipient.
	Acknowledged bool
}

// Description returns the user-facing failure text.
func (v FailureView) Description() string {
	return v.Kind.Description()
}

// Action returns the remediation the UI should expose.
func (v FailureView) Action() Action {
	switch v.Kind {
	case FailureIdentityMismatch:
		return ActionAcceptIdentity
	case FailureNetwork:
		return ActionResend
	case FailureUnregistered:
		if v.Acknowledged {
			return ActionNone
		}
		return ActionAcknowledgeUnregistered
	default:
		return ActionNone
	}
}
