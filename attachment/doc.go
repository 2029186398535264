// Package attachment turns an encrypted attachment into a short-lived
// plaintext file that can be read exactly once.
//
// An external reference of the form
//
//	content://<authority>/part/<unique_id>/<row_id>[/<display_name>]
//
// is parsed with ParseLocator. A Materializer then asks the SecretSource for
// the unlocked master secret, streams the decrypted bytes from the Store into
// a randomly named file inside a private (0700) directory, reopens it
// read-only and unlinks it before handing the descriptor to the caller:
//
//	loc, err := attachment.ParseLocator(ref)
//	if err != nil {
//	    return err // ErrMalformedReference
//	}
//	f, err := m.Materialize(ctx, loc)
//	if errors.Is(err, attachment.ErrLocked) {
//	    // prompt for the passphrase and retry
//	}
//	defer f.Close()
//	io.Copy(dst, f)
//
// The plaintext never has a directory entry once Materialize returns, so no
// other reader can reach it, and a failed copy removes the partial file
// before the error is returned.
package attachment
