// Package store provides file-backed implementations of the collaborators
// consumed by the delivery and attachment packages.
//
// Each store keeps its state in a JSON document inside the data directory.
// Every read-modify-write happens under an in-process mutex and an
// exclusive gofrs/flock lock on a sibling ".lock" file, so several
// processes (for example the CLI and a long-running watcher) can share a
// data directory. Documents are replaced atomically by writing a temporary
// file and renaming it over the original.
//
//	messages, _ := store.NewMessageStore(dataDir)
//	directory, _ := store.NewRecipientDirectory(dataDir, hub)
//	attachments, _ := store.NewAttachmentStore(dataDir)
//
// RecipientDirectory.Watch uses fsnotify to publish changes written by other
// processes to a notify.Hub.
package store
