package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloud-on-prem/goose/internal/agent/supervisor"
	"github.com/cloud-on-prem/goose/internal/chat/sessions"
	"github.com/cloud-on-prem/goose/internal/events"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a single prompt and print the answer",
		Long: `Send one prompt to the agent and print its final answer without
streaming. With no arguments, or with "-", the prompt is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			defer shutdownTracing(log)

			hub := events.NewHub(log)
			defer hub.Close()

			ctx := cmd.Context()
			sup, stopAgent, err := supervisor.Provide(ctx, cfg, hub, log)
			if err != nil {
				return fmt.Errorf("agent server unavailable: %w", err)
			}
			defer func() { _ = stopAgent() }()

			if sessionID == "" {
				sessionID = sessions.New(sup, sup.IsReady, nil, log).Create(sup.WorkingDir()).ID
			}

			c := sup.Client()
			if c == nil {
				return fmt.Errorf("agent server stopped")
			}
			answer, err := c.Ask(ctx, prompt, sessionID, sup.WorkingDir())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to ask in (default: a new session)")
	return cmd
}

// readPrompt joins args, or reads stdin when there are none or the only
// argument is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	var prompt string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	} else {
		prompt = strings.Join(args, " ")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	return prompt, nil
}
