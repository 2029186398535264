package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/opd-ai/deliverycore/notify"
	"github.com/sirupsen/logrus"
)

// Resolver classifies per-recipient delivery failures and applies their
// remediations. It is safe for concurrent use. Resend and ResolveMismatch on
// the same message are mutually exclusive.
type Resolver struct {
	store      MessageStore
	directory  RecipientDirectory
	sender     MessageSender
	dispatcher *notify.Dispatcher
	locks      *messageLocks
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDispatcher delivers async completions on d instead of the worker
// goroutine.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(r *Resolver) {
		r.dispatcher = d
	}
}

// NewResolver creates a resolver over its collaborators.
func NewResolver(store MessageStore, directory RecipientDirectory, sender MessageSender, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		directory: directory,
		sender:    sender,
		locks:     newMessageLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewResolver",
		"has_dispatcher": r.dispatcher != nil,
	}).Info("Delivery failure resolver created")

	return r
}

// SweepResult reports what AcknowledgeUnregistered did to the thread.
type SweepResult struct {
	// Released lists messages transitioned to secure and sent.
	Released []MessageID
	// Skipped lists messages held by a concurrent resend. They are picked
	// up by that resend's own completion path.
	Skipped []MessageID
}

// Resend removes the message's network failure entries and asks the
// transport to send again. With target set on a group message only that
// member's entry is removed and only that member is resent; otherwise every
// network failure is removed and the whole message is resent.
//
// Removal is not rolled back when the transport fails: the transport's own
// error path re-records the failure. Delivery is at-least-once.
//
// The operation is not cancelled by ctx; an abandoned call runs to completion.
func (r *Resolver) Resend(ctx context.Context, id MessageID, target *RecipientID) error {
	ctx = context.WithoutCancel(ctx)

	unlock := r.locks.lockResend(id)
	defer unlock()

	fields := logrus.Fields{
		"function":   "Resend",
		"message_id": id,
	}
	if target != nil {
		fields["target_recipient"] = *target
	}

	msg, err := r.store.Message(ctx, id)
	if err != nil {
		return fmt.Errorf("load message %d: %w", id, err)
	}

	targeted := target != nil && msg.Group
	if targeted {
		if err := r.store.RemoveNetworkFailure(ctx, id, *target); err != nil {
			return fmt.Errorf("remove network failure for recipient %d: %w", *target, err)
		}
	} else {
		for _, nf := range msg.Failures.Network {
			if err := r.store.RemoveNetworkFailure(ctx, id, nf.RecipientID); err != nil {
				return fmt.Errorf("remove network failure for recipient %d: %w", nf.RecipientID, err)
			}
		}
		if msg.Status == StatusFailed {
			if err := r.store.MarkPending(ctx, id); err != nil {
				return fmt.Errorf("mark message %d pending: %w", id, err)
			}
		}
	}

	logrus.WithFields(fields).WithField("targeted", targeted).Info("Failure entries cleared, resending")

	if targeted {
		err = r.sender.ResendToRecipient(ctx, id, *target)
	} else {
		err = r.sender.Resend(ctx, id)
	}
	if err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Error("Resend failed")
		return transportError(err)
	}

	logrus.WithFields(fields).Info("Resend handed to transport")
	return nil
}

// ResolveMismatch removes recipient's identity mismatch after the caller
// confirmed trust of acceptedKey. Trust is recorded through the transport
// layer first. ErrStaleMismatch is returned when the mismatch is gone or
// carries a different key.
//
// When the mismatch was the last thing holding back a pending message whose
// unregistered recipients have all been acknowledged, the message is
// released as AcknowledgeUnregistered would have.
func (r *Resolver) ResolveMismatch(ctx context.Context, id MessageID, recipient RecipientID, acceptedKey []byte) error {
	ctx = context.WithoutCancel(ctx)

	unlock := r.locks.lock(id)
	defer unlock()

	fields := logrus.Fields{
		"function":     "ResolveMismatch",
		"message_id":   id,
		"recipient_id": recipient,
	}

	msg, err := r.store.Message(ctx, id)
	if err != nil {
		return fmt.Errorf("load message %d: %w", id, err)
	}

	mismatch, ok := msg.Failures.MismatchFor(recipient)
	if !ok {
		logrus.WithFields(fields).Debug("Mismatch already absent")
		return ErrStaleMismatch
	}
	if !bytes.Equal(mismatch.IdentityKey, acceptedKey) {
		logrus.WithFields(fields).Warn("Accepted key differs from recorded mismatch")
		return fmt.Errorf("%w: identity key changed again", ErrStaleMismatch)
	}

	if err := r.sender.TrustIdentity(ctx, recipient, acceptedKey); err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Error("Failed to record trusted identity")
		return transportError(err)
	}

	removed, err := r.store.RemoveIdentityMismatch(ctx, id, recipient)
	if err != nil {
		return fmt.Errorf("remove identity mismatch: %w", err)
	}
	if !removed {
		logrus.WithFields(fields).Debug("Mismatch removed concurrently")
		return ErrStaleMismatch
	}

	released, err := r.releaseIfUnblocked(ctx, id)
	if err != nil {
		return fmt.Errorf("release message %d: %w", id, err)
	}

	logrus.WithFields(fields).WithField("released", released).Info("Identity mismatch resolved")
	return nil
}

// AcknowledgeUnregistered records that the user has seen recipient's
// unregistered notice, then sweeps the pending messages of the same thread
// that list recipient as unregistered. A message is released (marked secure
// and sent) once it has no identity mismatch, no network failure and no
// other unregistered recipient whose notice is still unseen.
//
// Calling it again is harmless: the preference stays set and already
// released messages are no longer pending.
func (r *Resolver) AcknowledgeUnregistered(ctx context.Context, id MessageID, recipient RecipientID) (SweepResult, error) {
	ctx = context.WithoutCancel(ctx)

	fields := logrus.Fields{
		"function":     "AcknowledgeUnregistered",
		"message_id":   id,
		"recipient_id": recipient,
	}

	msg, err := r.store.Message(ctx, id)
	if err != nil {
		return SweepResult{}, fmt.Errorf("load message %d: %w", id, err)
	}

	if err := r.directory.SetSeenUnregistered(ctx, []RecipientID{recipient}, true); err != nil {
		return SweepResult{}, fmt.Errorf("persist seen_unregistered for %d: %w", recipient, err)
	}

	thread, err := r.store.MessagesInThread(ctx, msg.ThreadID)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list thread %d: %w", msg.ThreadID, err)
	}

	var result SweepResult
	var errs []error
	for _, candidate := range thread {
		if candidate.Status != StatusPending {
			continue
		}
		if _, listed := candidate.Failures.UnregisteredFor(recipient); !listed {
			continue
		}

		unlock, ok := r.locks.lockUnlessResending(candidate.ID)
		if !ok {
			result.Skipped = append(result.Skipped, candidate.ID)
			continue
		}
		released, err := r.releaseIfUnblocked(ctx, candidate.ID)
		unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		if released {
			result.Released = append(result.Released, candidate.ID)
		}
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"thread_id": msg.ThreadID,
		"released":  len(result.Released),
		"skipped":   len(result.Skipped),
		"errors":    len(errs),
	}).Info("Unregistered acknowledgement sweep finished")

	return result, errors.Join(errs...)
}

// releaseIfUnblocked re-reads the message under its lock and marks it
// secure and sent when it is pending only on unregistered recipients whose
// notices have all been seen. The caller holds the message's lock.
func (r *Resolver) releaseIfUnblocked(ctx context.Context, id MessageID) (bool, error) {
	msg, err := r.store.Message(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reload message %d: %w", id, err)
	}

	if msg.Status != StatusPending || len(msg.Failures.Unregistered) == 0 ||
		len(msg.Failures.Mismatches) > 0 || len(msg.Failures.Network) > 0 {
		return false, nil
	}

	for _, u := range msg.Failures.Unregistered {
		pref, err := r.directory.Preference(ctx, u.RecipientID)
		if err != nil {
			return false, fmt.Errorf("read preference for %d: %w", u.RecipientID, err)
		}
		if !pref.SeenUnregistered {
			return false, nil
		}
	}

	if err := r.store.MarkSecure(ctx, id); err != nil {
		return false, fmt.Errorf("mark message %d secure: %w", id, err)
	}
	if err := r.store.MarkSent(ctx, id); err != nil {
		return false, fmt.Errorf("mark message %d sent: %w", id, err)
	}
	return true, nil
}

// transportError wraps err so errors.Is(err, ErrTransportUnavailable) holds.
func transportError(err error) error {
	if errors.Is(err, ErrTransportUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
}
