package delivery

import "errors"

var (
	// ErrTransportUnavailable indicates the session/transport layer could not
	// perform a resend. The failure entry is expected to reappear through the
	// transport's own error path.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrStaleMismatch indicates the identity mismatch was already resolved
	// or replaced concurrently. Callers treat it as success.
	ErrStaleMismatch = errors.New("identity mismatch already resolved")

	// ErrMessageNotFound indicates the message store has no such message.
	ErrMessageNotFound = errors.New("message not found")
)
