package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/deliverycore/notify"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var recipients []int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print recipient preference changes as they happen",
		Long: `Watch the recipient directory and print a line whenever a recipient's
unregistered acknowledgement changes or the recipient is removed, including
changes written by other deliveryctl processes.

Without --recipient every recipient present at startup is watched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := openEnv(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchRecipients(ctx, e, recipients, stdout)
		},
	}
	cmd.Flags().Int64SliceVar(&recipients, "recipient", nil, "recipient id to watch (repeatable)")
	return cmd
}

// watchRecipients prints hub events for ids until ctx is done.
func watchRecipients(ctx context.Context, e *env, ids []int64, w io.Writer) error {
	if len(ids) == 0 {
		all, err := e.directory.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range all {
			ids = append(ids, int64(r.ID))
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no recipients to watch")
	}

	ctx, cancel := context.WithCancel(ctx)

	events := make(chan notify.RecipientEvent)
	subs := make([]*notify.Subscription, len(ids))
	for i, id := range ids {
		subs[i] = e.hub.Subscribe(id)
	}
	defer func() {
		for _, sub := range subs {
			e.hub.Unsubscribe(sub)
		}
	}()
	defer cancel()

	for _, sub := range subs {
		go func() {
			for ev := range sub.C {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- e.directory.Watch(ctx) }()

	fmt.Fprintf(w, "watching %d recipient(s)\n", len(ids)) //nolint:errcheck // best-effort output

	for {
		select {
		case ev := <-events:
			printEvent(w, ev)
		case err := <-watchErr:
			return err
		case <-ctx.Done():
			return <-watchErr
		}
	}
}

func printEvent(w io.Writer, ev notify.RecipientEvent) {
	if ev.Removed {
		fmt.Fprintf(w, "recipient %d removed\n", ev.Recipient) //nolint:errcheck // best-effort output
		return
	}
	fmt.Fprintf(w, "recipient %d seen_unregistered=%t\n", ev.Recipient, ev.SeenUnregistered) //nolint:errcheck // best-effort output
}
