package attachment

import "errors"

// ErrMalformedReference indicates a reference that cannot be parsed into a
// Locator. Retrying with the same input will fail again.
var ErrMalformedReference = errors.New("malformed attachment reference")

// ErrLocked indicates that no unlocked master secret is available.
var ErrLocked = errors.New("master secret is locked")

// ErrAttachmentMissing indicates the store holds no bytes for the locator.
var ErrAttachmentMissing = errors.New("attachment missing")

// ErrIoFailure indicates that decrypting or copying the attachment failed.
// The underlying cause is wrapped alongside it.
var ErrIoFailure = errors.New("attachment i/o failure")
