package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opd-ai/deliverycore/delivery"
	"github.com/spf13/cobra"
)

func newResendCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "resend <message-id>",
		Short: "Clear network failures and resend a message",
		Long: `Clear the network failure entries of a message and hand it back to
the relay transport.

For a group message, --recipient clears and resends to that member only.
A transport failure is reported but the cleared entries are not restored;
the relay records a new failure if delivery fails again.`,
		Example: `  deliveryctl resend 42
  deliveryctl resend 42 --recipient 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			var target *delivery.RecipientID
			if recipient != "" {
				r, err := parseRecipientID(recipient)
				if err != nil {
					return err
				}
				target = &r
			}

			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			resolver, err := e.resolver()
			if err != nil {
				return err
			}
			if err := resolver.Resend(cmd.Context(), id, target); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "message %d resent\n", id) //nolint:errcheck // best-effort output
			return nil
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "resend a group message to this member only")
	return cmd
}

func newAcceptIdentityCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept-identity <message-id> <recipient-id> [identity-key-hex]",
		Short: "Trust a recipient's new identity key",
		Long: `Trust the identity key recorded in a message's identity mismatch and
remove the mismatch.

Without an explicit key the key stored with the mismatch is accepted. When
the mismatch is already gone, or now carries a different key, nothing is
changed and the command still succeeds.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			recipient, err := parseRecipientID(args[1])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			var key []byte
			if len(args) == 3 {
				key, err = hex.DecodeString(strings.TrimSpace(args[2]))
				if err != nil {
					return fmt.Errorf("invalid identity key: %w", err)
				}
			} else {
				msg, err := e.messages.Message(cmd.Context(), id)
				if err != nil {
					return err
				}
				mismatch, ok := msg.Failures.MismatchFor(recipient)
				if !ok {
					fmt.Fprintf(stdout, "recipient %d has no identity mismatch on message %d\n", recipient, id) //nolint:errcheck // best-effort output
					return nil
				}
				key = mismatch.IdentityKey
			}

			resolver, err := e.resolver()
			if err != nil {
				return err
			}
			err = resolver.ResolveMismatch(cmd.Context(), id, recipient, key)
			switch {
			case errors.Is(err, delivery.ErrStaleMismatch):
				fmt.Fprintf(stdout, "identity mismatch for recipient %d already resolved\n", recipient) //nolint:errcheck // best-effort output
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(stdout, "identity of recipient %d trusted\n", recipient) //nolint:errcheck // best-effort output
			return nil
		},
	}
	return cmd
}

func newAckUnregisteredCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack-unregistered <message-id> <recipient-id>",
		Short: "Acknowledge an unregistered recipient and release held messages",
		Long: `Record that the unregistered notice for a recipient was seen, then
release the pending messages of the same thread that were held only by
unacknowledged unregistered recipients.

Released messages are marked secure and sent. Messages busy with a
concurrent resend are listed as skipped.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			recipient, err := parseRecipientID(args[1])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			resolver, err := e.resolver()
			if err != nil {
				return err
			}
			result, err := resolver.AcknowledgeUnregistered(cmd.Context(), id, recipient)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "released: %s\n", joinIDs(result.Released)) //nolint:errcheck // best-effort output
			if len(result.Skipped) > 0 {
				fmt.Fprintf(stdout, "skipped: %s\n", joinIDs(result.Skipped)) //nolint:errcheck // best-effort output
			}
			return nil
		},
	}
	return cmd
}

func joinIDs(ids []delivery.MessageID) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
