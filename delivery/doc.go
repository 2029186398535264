// Package delivery resolves per-recipient delivery failures of outgoing
// messages.
//
// # Overview
//
// When a send attempt fails the session/transport layer records one of three
// failure documents on the message: a [NetworkFailure], an
// [IdentityKeyMismatch], or an [UnregisteredUser]. The [Resolver] decides
// which of them to surface for each recipient and applies the remediation the
// user picks.
//
// # Classification
//
// [Classify] is an ordered match over the [FailureRecord] sum type. Priority
// is fixed by [FailureKind.Priority]:
//
//	IdentityKeyMismatch > NetworkFailure > UnregisteredUser
//
// A non-group message whose overall status is failed counts as a network
// failure for every recipient. An identity mismatch suppresses every other
// indicator for that recipient until the new key is accepted. Classification
// is a pure read; returning false is the healthy path with no indicator.
//
// # Remediation
//
//   - [Resolver.Resend] clears network failure entries and asks the
//     [MessageSender] to send again, either to one group member or to the
//     whole message. Clearing is not rolled back on transport failure.
//   - [Resolver.ResolveMismatch] records trust of the new key and removes the
//     mismatch, returning [ErrStaleMismatch] if someone else got there first.
//   - [Resolver.AcknowledgeUnregistered] persists the recipient's
//     seen_unregistered preference and sweeps the thread, releasing every
//     pending message that nothing else blocks.
//
// # Concurrency
//
// Every operation takes a per-message lock. The acknowledgement sweep waits
// for it except while a resend holds it: those messages are skipped and
// reported in [SweepResult.Skipped]. ResolveMismatch re-runs the release
// check before unlocking, so a message whose last blocker was the mismatch
// is not left pending. None of the operations are cancelled by their
// context once started.
//
// The *Async variants run on a worker goroutine and deliver completion on a
// [notify.Dispatcher] configured with [WithDispatcher], so completion
// callbacks are serialized with every other observer.
//
//	r := delivery.NewResolver(store, directory, sender, delivery.WithDispatcher(d))
//	r.ResendAsync(ctx, msgID, nil, func(err error) {
//	    enableResendButton()
//	})
package delivery
