package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opd-ai/deliverycore/attachment"
	"github.com/opd-ai/deliverycore/config"
	"github.com/opd-ai/deliverycore/crypto"
	"github.com/opd-ai/deliverycore/delivery"
	"github.com/opd-ai/deliverycore/notify"
	"github.com/opd-ai/deliverycore/store"
	"github.com/opd-ai/deliverycore/transport"
	"github.com/sirupsen/logrus"
)

const (
	// attachmentAuthority is the authority of printed attachment references.
	attachmentAuthority = "deliverycore"

	relayClientKeyFile = "relay-client.key"
	relayServerKeyFile = "relay-server.key"
)

// env bundles the stores and services of one data directory.
type env struct {
	cfg         config.Config
	dispatcher  *notify.Dispatcher
	hub         *notify.Hub
	messages    *store.MessageStore
	directory   *store.RecipientDirectory
	attachments *store.AttachmentStore
}

func openEnv(cfg config.Config) (*env, error) {
	dataDir := cfg.Storage.DataDir

	messages, err := store.NewMessageStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}

	dispatcher := notify.NewDispatcher()
	hub := notify.NewHub(dispatcher)
	directory, err := store.NewRecipientDirectory(dataDir, hub)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("open recipient directory: %w", err)
	}

	attachments, err := store.NewAttachmentStore(dataDir)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("open attachment store: %w", err)
	}

	return &env{
		cfg:         cfg,
		dispatcher:  dispatcher,
		hub:         hub,
		messages:    messages,
		directory:   directory,
		attachments: attachments,
	}, nil
}

func (e *env) Close() {
	e.dispatcher.Close()
}

// sender builds the relay transport from the relay section. Without a
// configured relay every send fails with delivery.ErrTransportUnavailable.
func (e *env) sender() (*transport.RelaySender, error) {
	keys, err := transport.LoadOrCreateKeyPair(filepath.Join(e.cfg.Storage.DataDir, relayClientKeyFile))
	if err != nil {
		return nil, err
	}

	var servers []transport.RelayServerInfo
	if e.cfg.Relay.Address != "" {
		pub, err := transport.ParsePublicKey(e.cfg.Relay.PublicKey)
		if err != nil {
			return nil, err
		}
		servers = append(servers, transport.RelayServerInfo{Address: e.cfg.Relay.Address, PublicKey: pub})
	}

	s := transport.NewRelaySender(keys, servers)
	s.SetTimeout(e.cfg.Relay.DialTimeout.Duration)
	return s, nil
}

func (e *env) resolver() (*delivery.Resolver, error) {
	sender, err := e.sender()
	if err != nil {
		return nil, err
	}
	return delivery.NewResolver(e.messages, e.directory, sender, delivery.WithDispatcher(e.dispatcher)), nil
}

// unlock opens a key cache with the passphrase from the environment.
func (e *env) unlock() (*crypto.KeyCache, error) {
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s is not set", passphraseEnv)
	}

	keys, err := crypto.NewKeyCache(e.cfg.Storage.DataDir, e.cfg.Unlock.IdleTimeout.Duration)
	if err != nil {
		return nil, err
	}
	if err := keys.Unlock([]byte(passphrase)); err != nil {
		return nil, err
	}
	return keys, nil
}

func (e *env) materializer(secrets attachment.SecretSource) *attachment.Materializer {
	tempDir := e.cfg.Attachments.TempDir
	if tempDir == "" {
		tempDir = attachment.DefaultTempDir()
	}
	return attachment.NewMaterializer(e.attachments, secrets,
		attachment.WithTempDir(tempDir),
		attachment.WithBufferSize(e.cfg.Attachments.CopyBufferSize),
		attachment.WithMaxSize(e.cfg.Attachments.MaxSize),
		attachment.WithDispatcher(e.dispatcher),
		attachment.WithStateObserver(func(loc attachment.Locator, state attachment.State, err error) {
			entry := logrus.WithFields(logrus.Fields{
				"function":      "deliveryctl.materializer",
				"attachment_id": loc.ID().String(),
				"state":         state.String(),
			})
			if err != nil {
				entry = entry.WithField("error", err.Error())
			}
			entry.Debug("Attachment state changed")
		}),
	)
}
