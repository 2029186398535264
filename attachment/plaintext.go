package attachment

import (
	"os"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// TransientPlaintextFile is a read-once handle on decrypted attachment
// bytes. The backing file is unlinked before the handle is returned, so the
// open descriptor is the only way to reach the plaintext.
type TransientPlaintextFile struct {
	file        *os.File
	name        string
	size        int64
	contentType string

	closeOnce sync.Once
	closeErr  error
}

func newTransientPlaintextFile(f *os.File, name string, size int64, contentType string) *TransientPlaintextFile {
	t := &TransientPlaintextFile{
		file:        f,
		name:        name,
		size:        size,
		contentType: contentType,
	}
	runtime.SetFinalizer(t, func(t *TransientPlaintextFile) {
		logrus.WithFields(logrus.Fields{
			"function": "TransientPlaintextFile.finalizer",
			"name":     t.name,
		}).Warn("Plaintext handle was never closed")
		_ = t.Close()
	})
	return t
}

// Read reads plaintext bytes.
func (t *TransientPlaintextFile) Read(p []byte) (int, error) {
	return t.file.Read(p)
}

// Close releases the descriptor. The path was unlinked before the handle
// was built and may already name another request's file, so it is not
// touched. It is safe to call more than once.
func (t *TransientPlaintextFile) Close() error {
	t.closeOnce.Do(func() {
		runtime.SetFinalizer(t, nil)
		t.closeErr = t.file.Close()
	})
	return t.closeErr
}

// ContentType returns the resolved MIME type, or "" when unknown.
func (t *TransientPlaintextFile) ContentType() string {
	return t.contentType
}

// Size returns the number of plaintext bytes.
func (t *TransientPlaintextFile) Size() int64 {
	return t.size
}

// Name returns the path the plaintext was written to. The path no longer
// exists.
func (t *TransientPlaintextFile) Name() string {
	return t.name
}
