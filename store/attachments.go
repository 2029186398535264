package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opd-ai/deliverycore/attachment"
	"github.com/opd-ai/deliverycore/crypto"
	"github.com/opd-ai/deliverycore/limits"
	"github.com/sirupsen/logrus"
)

const (
	// AttachmentsFileName is the attachment metadata document.
	AttachmentsFileName = "attachments.json"
	// AttachmentsDirName holds the sealed attachment blobs.
	AttachmentsDirName = "attachments"
)

// AttachmentMeta describes a stored attachment.
type AttachmentMeta struct {
	ID          attachment.ID `json:"id"`
	ContentType string        `json:"content_type,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Size        int64         `json:"size"`
	CreatedAt   time.Time     `json:"created_at"`
}

type attachmentDocument struct {
	NextRowID int64                     `json:"next_row_id"`
	Entries   map[string]AttachmentMeta `json:"entries"`
}

// AttachmentStore keeps attachments sealed under the master secret with
// nacl/secretbox. Plaintext exists only in memory while a stream is open.
type AttachmentStore struct {
	file    *jsonFile
	blobDir string
	now     func() time.Time
}

var _ attachment.Store = (*AttachmentStore)(nil)

// NewAttachmentStore opens the attachment store in dataDir.
func NewAttachmentStore(dataDir string) (*AttachmentStore, error) {
	blobDir := filepath.Join(dataDir, AttachmentsDirName)
	if err := ensureDir(blobDir); err != nil {
		return nil, err
	}
	return &AttachmentStore{
		file:    newJSONFile(filepath.Join(dataDir, AttachmentsFileName)),
		blobDir: blobDir,
		now:     time.Now,
	}, nil
}

func (s *AttachmentStore) blobPath(id attachment.ID) string {
	return filepath.Join(s.blobDir, id.String()+".sealed")
}

// Import seals the plaintext read from r and assigns it a new ID. The
// unique id is the import time in milliseconds.
func (s *AttachmentStore) Import(ctx context.Context, secret *crypto.MasterSecret, r io.Reader, contentType, displayName string) (AttachmentMeta, error) {
	if displayName != "" {
		if err := limits.ValidateDisplayName(displayName); err != nil {
			return AttachmentMeta{}, err
		}
	}

	plaintext, err := io.ReadAll(io.LimitReader(r, limits.MaxAttachmentSize+1))
	if err != nil {
		return AttachmentMeta{}, fmt.Errorf("read attachment: %w", err)
	}
	defer crypto.ZeroBytes(plaintext)

	if err := limits.ValidateAttachmentSize(int64(len(plaintext)), limits.MaxAttachmentSize); err != nil {
		return AttachmentMeta{}, err
	}

	sealed, err := crypto.SealAttachment(secret, plaintext)
	if err != nil {
		return AttachmentMeta{}, err
	}

	var meta AttachmentMeta
	var doc attachmentDocument
	err = s.file.update(ctx, &doc, func() (bool, error) {
		if doc.Entries == nil {
			doc.Entries = make(map[string]AttachmentMeta)
		}
		doc.NextRowID++
		now := s.now()
		meta = AttachmentMeta{
			ID:          attachment.ID{RowID: doc.NextRowID, UniqueID: now.UnixMilli()},
			ContentType: contentType,
			DisplayName: displayName,
			Size:        int64(len(plaintext)),
			CreatedAt:   now.UTC(),
		}
		if err := writeFileAtomic(s.blobPath(meta.ID), sealed); err != nil {
			return false, fmt.Errorf("write sealed attachment: %w", err)
		}
		doc.Entries[meta.ID.String()] = meta
		return true, nil
	})
	if err != nil {
		return AttachmentMeta{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "AttachmentStore.Import",
		"attachment_id": meta.ID.String(),
		"size":          meta.Size,
		"content_type":  contentType,
	}).Info("Attachment imported")

	return meta, nil
}

// Meta returns the metadata of id.
func (s *AttachmentStore) Meta(ctx context.Context, id attachment.ID) (AttachmentMeta, bool, error) {
	var doc attachmentDocument
	if err := s.file.view(ctx, &doc); err != nil {
		return AttachmentMeta{}, false, err
	}
	meta, ok := doc.Entries[id.String()]
	return meta, ok, nil
}

// OpenDecryptedStream opens the sealed blob of id with secret. The returned
// reader wipes the plaintext when closed.
func (s *AttachmentStore) OpenDecryptedStream(_ context.Context, secret *crypto.MasterSecret, id attachment.ID) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", attachment.ErrAttachmentMissing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("open sealed attachment: %w", err)
	}
	defer f.Close()

	sealed, err := io.ReadAll(io.LimitReader(f, limits.MaxSealedAttachment+1))
	if err != nil {
		return nil, fmt.Errorf("read sealed attachment: %w", err)
	}
	if len(sealed) > limits.MaxSealedAttachment {
		return nil, fmt.Errorf("%w: sealed blob %s", limits.ErrAttachmentTooLarge, id)
	}

	plaintext, err := crypto.OpenAttachment(secret, sealed)
	if err != nil {
		return nil, err
	}

	return &wipingReader{Reader: bytes.NewReader(plaintext), buf: plaintext}, nil
}

// ContentType returns the recorded MIME type of id and whether id still
// exists. Lookup errors are logged and reported as missing.
func (s *AttachmentStore) ContentType(ctx context.Context, id attachment.ID) (string, bool) {
	meta, ok, err := s.Meta(ctx, id)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "AttachmentStore.ContentType",
			"attachment_id": id.String(),
			"error":         err.Error(),
		}).Warn("Failed to read attachment metadata")
		return "", false
	}
	if !ok {
		return "", false
	}
	if _, err := os.Stat(s.blobPath(id)); err != nil {
		return "", false
	}
	return meta.ContentType, true
}

// Delete removes id. Deleting a missing attachment is not an error.
func (s *AttachmentStore) Delete(ctx context.Context, id attachment.ID) error {
	var doc attachmentDocument
	return s.file.update(ctx, &doc, func() (bool, error) {
		if err := os.Remove(s.blobPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("remove sealed attachment: %w", err)
		}
		if _, ok := doc.Entries[id.String()]; !ok {
			return false, nil
		}
		delete(doc.Entries, id.String())
		return true, nil
	})
}

// wipingReader zeroes its buffer on Close.
type wipingReader struct {
	*bytes.Reader
	buf []byte
}

func (w *wipingReader) Close() error {
	crypto.ZeroBytes(w.buf)
	w.Reader.Reset(nil)
	return nil
}
