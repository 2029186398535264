package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/opd-ai/deliverycore/crypto"
	"github.com/opd-ai/deliverycore/delivery"
	"github.com/opd-ai/deliverycore/store"
	"github.com/opd-ai/deliverycore/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRelayCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a single-host relay over the local data directory",
		Long: `Accept Noise IK relay requests and apply them to the messages in the
data directory. A whole-message resend of a pending message marks it sent;
requests for unknown messages are rejected.

The relay's static public key is printed on startup. Put it in the
relay.public_key setting of the clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Relay.Listen
			}

			messages, err := store.NewMessageStore(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			keys, err := transport.LoadOrCreateKeyPair(filepath.Join(cfg.Storage.DataDir, relayServerKeyFile))
			if err != nil {
				return err
			}

			l, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "relay listening on %s\npublic key %s\n", //nolint:errcheck // best-effort output
				l.Addr(), hex.EncodeToString(keys.Public[:]))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := transport.NewRelayServer(keys, &storeRelayHandler{messages: messages})
			return server.Serve(ctx, l)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: relay.listen)")
	return cmd
}

// storeRelayHandler applies relay requests to a local message store.
type storeRelayHandler struct {
	messages *store.MessageStore
}

func (h *storeRelayHandler) HandleRelayRequest(ctx context.Context, peer [32]byte, req transport.Request) error {
	log := logrus.WithFields(logrus.Fields{
		"function":   "storeRelayHandler.HandleRelayRequest",
		"op":         req.Op,
		"message_id": req.MessageID,
	}).WithFields(crypto.SecureFieldHash(peer[:], "peer"))

	switch req.Op {
	case transport.OpTrustIdentity:
		log.WithField("recipient_id", req.RecipientID).
			WithFields(crypto.SecureFieldHash(req.IdentityKey, "identity_key")).
			Info("Identity trusted")
		return nil
	case transport.OpResend, transport.OpResendToRecipient:
	default:
		return fmt.Errorf("unsupported op %q", req.Op)
	}

	msg, err := h.messages.Message(ctx, req.MessageID)
	if err != nil {
		return err
	}
	if req.Op == transport.OpResend && msg.Status == delivery.StatusPending {
		if err := h.messages.MarkSent(ctx, msg.ID); err != nil {
			return err
		}
	}
	log.Info("Resend relayed")
	return nil
}
