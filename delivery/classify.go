package delivery

import (
	"context"

	"github.com/sirupsen/logrus"
)

// failureCandidates lists every failure record that applies to recipient on
// msg. A non-group message whose overall status is failed yields a network
// failure for every recipient even without an explicit entry.
func failureCandidates(msg *Message, recipient RecipientID) []FailureRecord {
	candidates := make([]FailureRecord, 0, 3)

	if m, ok := msg.Failures.MismatchFor(recipient); ok {
		candidates = append(candidates, m)
	}

	if nf, ok := msg.Failures.NetworkFor(recipient); ok {
		candidates = append(candidates, nf)
	} else if !msg.Group && msg.Status == StatusFailed {
		candidates = append(candidates, NetworkFailure{RecipientID: recipient})
	}

	if u, ok := msg.Failures.UnregisteredFor(recipient); ok {
		candidates = append(candidates, u)
	}

	return candidates
}

// selectFailure returns the highest-priority record, or nil.
func selectFailure(records []FailureRecord) FailureRecord {
	var best FailureRecord
	for _, rec := range records {
		if best == nil || rec.Kind().Priority() > best.Kind().Priority() {
			best = rec
		}
	}
	return best
}

// Classify computes the single failure surfaced for recipient on msg.
// seen reports whether the user already acknowledged a recipient's
// unregistered notice; it is consulted only when the unregistered condition
// wins. The second return value is false when no indicator should be shown.
func Classify(msg *Message, recipient RecipientID, seen func(RecipientID) bool) (FailureView, bool) {
	if msg == nil {
		return FailureView{}, false
	}

	switch f := selectFailure(failureCandidates(msg, recipient)).(type) {
	case IdentityKeyMismatch:
		return FailureView{
			Kind:        FailureIdentityMismatch,
			Recipient:   recipient,
			IdentityKey: append([]byte(nil), f.IdentityKey...),
		}, true
	case NetworkFailure:
		return FailureView{
			Kind:       FailureNetwork,
			Recipient:  recipient,
			Resendable: true,
		}, true
	case UnregisteredUser:
		return FailureView{
			Kind:         FailureUnregistered,
			Recipient:    recipient,
			Acknowledged: seen != nil && seen(recipient),
		}, true
	default:
		return FailureView{}, false
	}
}

// Classify computes the failure surfaced for recipient, reading the
// unregistered acknowledgement from the recipient directory. A directory
// error is logged and treated as "not yet acknowledged"; classification
// itself never fails.
func (r *Resolver) Classify(ctx context.Context, msg *Message, recipient RecipientID) (FailureView, bool) {
	return Classify(msg, recipient, func(id RecipientID) bool {
		pref, err := r.directory.Preference(ctx, id)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "Classify",
				"recipient_id": id,
				"error":        err.Error(),
			}).Warn("Failed to read recipient preference, assuming unacknowledged")
			return false
		}
		return pref.SeenUnregistered
	})
}
