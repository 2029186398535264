package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/opd-ai/deliverycore/delivery"
	"github.com/opd-ai/deliverycore/store"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var thread int64
	cmd := &cobra.Command{
		Use:   "status [message-id]",
		Short: "Show per-recipient delivery failures",
		Long: `Show every stored message with the failure classified for each
recipient and the action that resolves it.

With a message id only that message is shown. With --thread only the
messages of that thread are shown.`,
		Example: `  deliveryctl status
  deliveryctl status 42
  deliveryctl status --thread 7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			msgs, err := selectMessages(cmd.Context(), e.messages, args, thread, cmd.Flags().Changed("thread"))
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), stdout, e, msgs)
		},
	}
	cmd.Flags().Int64Var(&thread, "thread", 0, "only show messages of this thread")
	return cmd
}

func selectMessages(ctx context.Context, messages *store.MessageStore, args []string, thread int64, byThread bool) ([]*delivery.Message, error) {
	switch {
	case len(args) == 1:
		id, err := parseMessageID(args[0])
		if err != nil {
			return nil, err
		}
		msg, err := messages.Message(ctx, id)
		if err != nil {
			return nil, err
		}
		return []*delivery.Message{msg}, nil
	case byThread:
		return messages.MessagesInThread(ctx, delivery.ThreadID(thread))
	default:
		return messages.List(ctx)
	}
}

func printStatus(ctx context.Context, w io.Writer, e *env, msgs []*delivery.Message) error {
	recipients, err := e.directory.List(ctx)
	if err != nil {
		return err
	}
	names := make(map[delivery.RecipientID]string, len(recipients))
	seen := make(map[delivery.RecipientID]bool, len(recipients))
	for _, r := range recipients {
		names[r.ID] = r.Name
		seen[r.ID] = r.SeenUnregistered
	}
	isSeen := func(r delivery.RecipientID) bool { return seen[r] }

	if len(msgs) == 0 {
		fmt.Fprintln(w, "no messages") //nolint:errcheck // best-effort output
		return nil
	}

	for _, msg := range msgs {
		kind := "direct"
		if msg.Group {
			kind = "group"
		}
		fmt.Fprintf(w, "message %d  thread %d  %s  %s  secure=%t\n", //nolint:errcheck // best-effort output
			msg.ID, msg.ThreadID, kind, msg.Status, msg.Secure)

		for _, r := range msg.Recipients {
			label := strconv.FormatInt(int64(r), 10)
			if name := names[r]; name != "" {
				label += " (" + name + ")"
			}
			view, failed := delivery.Classify(msg, r, isSeen)
			if !failed {
				fmt.Fprintf(w, "  %s: ok\n", label) //nolint:errcheck // best-effort output
				continue
			}
			fmt.Fprintf(w, "  %s: %s [%s]\n", label, view.Description(), view.Action()) //nolint:errcheck // best-effort output
		}
	}
	return nil
}

func parseMessageID(s string) (delivery.MessageID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return delivery.MessageID(v), nil
}

func parseRecipientID(s string) (delivery.RecipientID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid recipient id %q", s)
	}
	return delivery.RecipientID(v), nil
}
