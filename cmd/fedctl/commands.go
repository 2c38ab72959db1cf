package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Priya8975/federation-engine/internal/domain"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
)

const (
	rateWindow = time.Minute
	maxFeed    = 4 << 20
)

func newRenewCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Re-verify subscriptions whose lease is about to end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			n, err := m.RenewalCheck(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "renewed %d subscriptions\n", n)
			return err
		},
	}
}

func newGCCmd(e *env) *cobra.Command {
	var del bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "List, or with --delete remove, stale subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			mode := websub.GCDryRun
			if del {
				mode = websub.GCDelete
			}
			report, err := m.GarbageCollect(cmd.Context(), mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range report.Candidates {
				fmt.Fprintf(out, "%s\t%s\t%s\n", c.Reason, c.Subscription.Topic, c.Subscription.Callback)
			}
			if del {
				fmt.Fprintf(out, "deleted %d of %d\n", report.Deleted, len(report.Candidates))
			} else {
				fmt.Fprintf(out, "%d candidates (dry run)\n", len(report.Candidates))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&del, "delete", false, "delete the flagged subscriptions")
	return cmd
}

func newResubscribeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resubscribe <topic> <callback>",
		Short: "Re-run verification for an existing subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			topic, callback := args[0], args[1]
			sub, err := m.Get(cmd.Context(), topic, callback)
			if err != nil {
				return err
			}
			if sub == nil {
				return fmt.Errorf("no subscription for %s at %s", callback, topic)
			}
			renewed, err := m.Subscribe(cmd.Context(), topic, callback, sub.Secret, sub.LeaseSeconds())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lease ends %s\n", renewed.LeaseEnd.Format(time.RFC3339))
			return nil
		},
	}
}

func newUnsubscribeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <topic> <callback>",
		Short: "Verify and remove a subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Unsubscribe(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "unsubscribed")
			return nil
		},
	}
}

func newReplayFeedCmd(e *env) *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "replay-feed <file|url>",
		Short: "Import every entry of an Atom feed into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readFeed(cmd.Context(), args[0], e.cfg.HTTPTimeout)
			if err != nil {
				return err
			}
			pg, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}

			registry := streams.NewRegistry(streams.WithStrict(e.cfg.StrictValidation))
			tr := translate.New(registry, nil, e.logger)
			c := translate.Context{
				Sender:     sender,
				Provenance: translate.ProvenanceRemote,
				Protocol:   domain.ProtocolOStatus,
			}

			var imported []*domain.Activity
			err = pg.InTx(cmd.Context(), func(repo translate.Repository) error {
				var err error
				imported, err = tr.FromExternalFeed(cmd.Context(), repo, body, c)
				return err
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range imported {
				fmt.Fprintf(out, "%s\t%s\n", a.Verb, a.URI)
			}
			fmt.Fprintf(out, "imported %d activities\n", len(imported))
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "actor URI every entry must be authored by")
	return cmd
}

// readFeed loads src from disk, or over HTTP when it is a URL.
func readFeed(ctx context.Context, src string, timeout time.Duration) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.ReadFile(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/atom+xml")
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", src, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFeed))
}

func newControlCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "control <shutdown|restart|update> [site]",
		Short: "Broadcast a control message to every queue daemon",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := e.queueManager(cmd.Context())
			if err != nil {
				return err
			}
			param := ""
			if len(args) == 2 {
				param = args[1]
			}
			if err := m.SendControl(cmd.Context(), args[0], param); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s %s\n", args[0], param)
			return nil
		},
	}
}

func newActorCmd(e *env) *cobra.Command {
	actor := &cobra.Command{
		Use:   "actor",
		Short: "Manage local actors",
	}

	var name string
	create := &cobra.Command{
		Use:   "create <nickname>",
		Short: "Create a local actor with a fresh signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := e.postgres(cmd.Context())
			if err != nil {
				return err
			}
			a, err := pg.CreateLocalActor(cmd.Context(), e.cfg.BaseURL, args[0], name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, a.URI)
			fmt.Fprintf(out, "inbox: %s\nfeed:  %s\n", a.Inbox, a.FeedURL)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")

	actor.AddCommand(create)
	return actor
}
