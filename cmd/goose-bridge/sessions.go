package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/message"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and inspect stored sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessions(cmd, opts, func(ctx context.Context, svc *services) error {
				infos, err := svc.sessions.List(ctx)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), infos)
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd, opts, func(ctx context.Context, svc *services) error {
				history, err := svc.sessions.History(ctx, args[0])
				if err != nil {
					return err
				}
				printTranscript(cmd.OutOrStdout(), history.Transcript())
				return nil
			})
		},
	}

	cmd.AddCommand(list, show)
	cmd.RunE = list.RunE
	return cmd
}

// withSessions brings the agent server up and runs fn. When the server
// cannot start the registry answers from its sample sessions.
func withSessions(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *services) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer shutdownTracing(log)

	svc, err := newServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	ctx := cmd.Context()
	if err := svc.supervisor.Up(ctx); err != nil {
		log.Warn("agent server unavailable, showing sample sessions", zap.Error(err))
	}
	return fn(ctx, svc)
}

func printSessions(out io.Writer, infos []client.SessionInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "no sessions")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODIFIED\tMESSAGES\tDESCRIPTION")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Modified, s.Metadata.MessageCount, s.Metadata.Description)
	}
	_ = tw.Flush()
}

func printTranscript(out io.Writer, msgs []message.Message) {
	for _, m := range msgs {
		stamp := time.UnixMilli(m.Created).UTC().Format(time.DateTime)
		fmt.Fprintf(out, "[%s] %s:\n%s\n\n", stamp, m.Role, m.Text())
	}
}
