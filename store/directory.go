package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/opd-ai/deliverycore/delivery"
	"github.com/opd-ai/deliverycore/notify"
	"github.com/sirupsen/logrus"
)

// RecipientsFileName is the recipient document inside the data directory.
const RecipientsFileName = "recipients.json"

// Recipient is a directory entry.
type Recipient struct {
	ID               delivery.RecipientID `json:"id"`
	Name             string               `json:"name,omitempty"`
	SeenUnregistered bool                 `json:"seen_unregistered"`
}

type recipientDocument struct {
	Recipients map[delivery.RecipientID]*Recipient `json:"recipients"`
}

// RecipientDirectory is a file-backed delivery.RecipientDirectory. Changes
// are published to the hub, including changes made by other processes while
// Watch runs.
type RecipientDirectory struct {
	file *jsonFile
	hub  *notify.Hub

	mu   sync.Mutex
	last map[delivery.RecipientID]Recipient
}

var _ delivery.RecipientDirectory = (*RecipientDirectory)(nil)

// NewRecipientDirectory opens the recipient document in dataDir. hub may be
// nil.
func NewRecipientDirectory(dataDir string, hub *notify.Hub) (*RecipientDirectory, error) {
	if err := ensureDir(dataDir); err != nil {
		return nil, err
	}
	d := &RecipientDirectory{
		file: newJSONFile(filepath.Join(dataDir, RecipientsFileName)),
		hub:  hub,
	}

	var doc recipientDocument
	if err := d.file.load(&doc); err != nil {
		return nil, err
	}
	d.last = snapshot(doc.Recipients)
	return d, nil
}

func snapshot(entries map[delivery.RecipientID]*Recipient) map[delivery.RecipientID]Recipient {
	out := make(map[delivery.RecipientID]Recipient, len(entries))
	for id, r := range entries {
		if r != nil {
			out[id] = *r
		}
	}
	return out
}

// Preference returns r's preference. Unknown recipients have the zero
// preference.
func (d *RecipientDirectory) Preference(ctx context.Context, r delivery.RecipientID) (delivery.Preference, error) {
	var doc recipientDocument
	if err := d.file.view(ctx, &doc); err != nil {
		return delivery.Preference{}, err
	}
	entry, ok := doc.Recipients[r]
	if !ok || entry == nil {
		return delivery.Preference{}, nil
	}
	return delivery.Preference{SeenUnregistered: entry.SeenUnregistered}, nil
}

// Get returns the entry for r.
func (d *RecipientDirectory) Get(ctx context.Context, r delivery.RecipientID) (Recipient, bool, error) {
	var doc recipientDocument
	if err := d.file.view(ctx, &doc); err != nil {
		return Recipient{}, false, err
	}
	entry, ok := doc.Recipients[r]
	if !ok || entry == nil {
		return Recipient{}, false, nil
	}
	return *entry, true, nil
}

// List returns every entry ordered by ID.
func (d *RecipientDirectory) List(ctx context.Context) ([]Recipient, error) {
	var doc recipientDocument
	if err := d.file.view(ctx, &doc); err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(doc.Recipients))
	for _, r := range doc.Recipients {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put inserts or replaces an entry.
func (d *RecipientDirectory) Put(ctx context.Context, r Recipient) error {
	return d.apply(ctx, func(doc *recipientDocument) bool {
		current, ok := doc.Recipients[r.ID]
		if ok && current != nil && *current == r {
			return false
		}
		entry := r
		doc.Recipients[r.ID] = &entry
		return true
	})
}

// SetSeenUnregistered sets the seen_unregistered preference for every
// recipient in ids, creating entries as needed.
func (d *RecipientDirectory) SetSeenUnregistered(ctx context.Context, ids []delivery.RecipientID, seen bool) error {
	return d.apply(ctx, func(doc *recipientDocument) bool {
		changed := false
		for _, id := range ids {
			entry, ok := doc.Recipients[id]
			if !ok || entry == nil {
				entry = &Recipient{ID: id}
				doc.Recipients[id] = entry
				changed = true
			}
			if entry.SeenUnregistered != seen {
				entry.SeenUnregistered = seen
				changed = true
			}
		}
		return changed
	})
}

// apply mutates the document, saves it and publishes the resulting diff
// while the file lock is held.
func (d *RecipientDirectory) apply(ctx context.Context, fn func(doc *recipientDocument) bool) error {
	return d.file.withLock(ctx, func() error {
		var doc recipientDocument
		if err := d.file.load(&doc); err != nil {
			return err
		}
		if doc.Recipients == nil {
			doc.Recipients = make(map[delivery.RecipientID]*Recipient)
		}
		if !fn(&doc) {
			return nil
		}
		if err := d.file.save(&doc); err != nil {
			return err
		}
		d.publishDiff(snapshot(doc.Recipients))
		return nil
	})
}

// Reload re-reads the document and publishes entries that changed since the
// last read or write by this process.
func (d *RecipientDirectory) Reload(ctx context.Context) error {
	return d.file.withLock(ctx, func() error {
		var doc recipientDocument
		if err := d.file.load(&doc); err != nil {
			return err
		}
		d.publishDiff(snapshot(doc.Recipients))
		return nil
	})
}

func (d *RecipientDirectory) publishDiff(current map[delivery.RecipientID]Recipient) {
	d.mu.Lock()
	previous := d.last
	d.last = current
	d.mu.Unlock()

	if d.hub == nil {
		return
	}

	var events []notify.RecipientEvent
	for id, r := range current {
		if old, ok := previous[id]; !ok || old != r {
			events = append(events, notify.RecipientEvent{
				Recipient:        int64(id),
				SeenUnregistered: r.SeenUnregistered,
			})
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			events = append(events, notify.RecipientEvent{Recipient: int64(id), Removed: true})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Recipient < events[j].Recipient })

	for _, ev := range events {
		d.hub.Publish(ev)
	}
}

// Watch publishes changes made to the recipient document by other
// processes until ctx is done.
func (d *RecipientDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic renames replace the file inode.
	dir := filepath.Dir(d.file.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "RecipientDirectory.Watch",
		"path":     d.file.path,
	})
	log.Info("Watching recipient directory")

	// Pick up anything written before the watch was registered.
	if err := d.Reload(ctx); err != nil {
		log.WithField("error", err.Error()).Warn("Initial reload failed")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Recipient directory watch stopped")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(d.file.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if err := d.Reload(ctx); err != nil {
				log.WithField("error", err.Error()).Warn("Failed to reload recipient directory")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithField("error", err.Error()).Warn("Watcher error")
		}
	}
}
