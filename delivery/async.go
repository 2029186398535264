package delivery

import "context"

// ResendAsync runs Resend on its own goroutine and reports completion on the
// notification context. The UI keeps the resend action disabled until done
// runs.
func (r *Resolver) ResendAsync(ctx context.Context, id MessageID, target *RecipientID, done func(error)) {
	var t *RecipientID
	if target != nil {
		v := *target
		t = &v
	}

	go func() {
		err := r.Resend(ctx, id, t)
		r.complete(func() {
			if done != nil {
				done(err)
			}
		})
	}()
}

// ResolveMismatchAsync runs ResolveMismatch on its own goroutine.
func (r *Resolver) ResolveMismatchAsync(ctx context.Context, id MessageID, recipient RecipientID, acceptedKey []byte, done func(error)) {
	key := append([]byte(nil), acceptedKey...)

	go func() {
		err := r.ResolveMismatch(ctx, id, recipient, key)
		r.complete(func() {
			if done != nil {
				done(err)
			}
		})
	}()
}

// AcknowledgeUnregisteredAsync runs AcknowledgeUnregistered on its own
// goroutine.
func (r *Resolver) AcknowledgeUnregisteredAsync(ctx context.Context, id MessageID, recipient RecipientID, done func(SweepResult, error)) {
	go func() {
		result, err := r.AcknowledgeUnregistered(ctx, id, recipient)
		r.complete(func() {
			if done != nil {
				done(result, err)
			}
		})
	}()
}

// complete runs fn on the dispatcher when one is configured.
func (r *Resolver) complete(fn func()) {
	if r.dispatcher != nil && r.dispatcher.Post(fn) {
		return
	}
	fn()
}
