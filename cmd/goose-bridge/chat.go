package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cloud-on-prem/goose/internal/chat/engine"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/events"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		Long: `Start the agent server and chat with it interactively. Replies stream
as they are generated. Ctrl-C stops the reply in progress; at the prompt
it exits. Type /help for the available commands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
				return fmt.Errorf("agent server unavailable: %w", err)
			}

			r := newREPL(svc.engine, svc.hub, cmd.OutOrStdout())
			r.confirm = func(ctx context.Context, id string, confirmed bool) error {
				return svc.supervisor.ConfirmToolCall(ctx, id, confirmed)
			}
			r.create = func() string {
				return svc.sessions.Create(svc.supervisor.WorkingDir()).ID
			}
			defer r.close()

			if sessionID != "" {
				history, err := svc.sessions.History(ctx, sessionID)
				if err != nil {
					return err
				}
				svc.engine.LoadSession(sessionID, history.Transcript())
			} else {
				svc.engine.NewSession(r.create())
			}

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt)
			defer signal.Stop(interrupts)

			return r.run(ctx, cmd.InOrStdin(), interrupts)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume a stored session")
	return cmd
}

const chatHelp = `commands:
  /stop            stop the reply in progress
  /approve <id>    allow a pending tool call
  /deny <id>       deny a pending tool call
  /new             start a new session
  /quit            exit
`

// repl drives the engine from line input and renders its events.
type repl struct {
	engine *engine.Engine
	hub    *events.Hub
	view   *terminalView
	sub    *events.Subscription

	confirm func(ctx context.Context, id string, confirmed bool) error
	create  func() string

	turn *engine.Turn
}

func newREPL(eng *engine.Engine, hub *events.Hub, out io.Writer) *repl {
	view := newTerminalView(out)
	return &repl{
		engine: eng,
		hub:    hub,
		view:   view,
		sub: hub.Subscribe(view.handle,
			events.KindMessageReceived,
			events.KindGenerationFinished,
			events.KindChatError,
			events.KindToolConfirmationRequested,
			events.KindSessionLoaded,
		),
	}
}

func (r *repl) close() {
	r.sub.Unsubscribe()
}

// run reads lines until input ends, ctx is done or /quit. Interrupts abort
// the running turn, or end the loop when there is none.
func (r *repl) run(ctx context.Context, in io.Reader, interrupts <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.prompt()
	for {
		var done <-chan struct{}
		if r.turn != nil {
			done = r.turn.Done()
		}

		select {
		case <-ctx.Done():
			return nil

		case <-interrupts:
			if !r.engine.StopGeneration() {
				return nil
			}

		case <-done:
			r.settle(ctx)
			r.prompt()

		case line, ok := <-lines:
			if !ok {
				if r.turn != nil {
					if _, err := r.turn.Wait(ctx); err != nil {
						return nil
					}
					r.settle(ctx)
				}
				return nil
			}
			quit, err := r.handleLine(ctx, line)
			if err != nil {
				r.view.notice("%v", err)
			}
			if quit {
				return nil
			}
			if r.turn == nil {
				r.prompt()
			}
		}
	}
}

// settle waits for the turn's events to be rendered.
func (r *repl) settle(ctx context.Context) {
	_ = r.hub.Flush(ctx)
	r.turn = nil
}

func (r *repl) prompt() {
	r.view.prompt()
}

func (r *repl) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.view.notice("%s", strings.TrimSuffix(chatHelp, "\n"))
	case "/stop":
		if !r.engine.StopGeneration() {
			return false, errors.New("nothing to stop")
		}
	case "/approve", "/deny":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: %s <id>", fields[0])
		}
		if r.confirm == nil {
			return false, errors.New("tool confirmation is not available")
		}
		return false, r.confirm(ctx, fields[1], fields[0] == "/approve")
	case "/new":
		if r.create == nil {
			return false, errors.New("sessions are not available")
		}
		r.engine.NewSession(r.create())
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) error {
	if r.turn != nil {
		return engine.ErrTurnInProgress
	}
	turn, err := r.engine.SendMessage(ctx, engine.SendRequest{Text: text})
	if err != nil {
		if errors.Is(err, engine.ErrNotReady) {
			// The chat error event has already been rendered.
			r.settle(ctx)
			return nil
		}
		return err
	}
	r.turn = turn
	return nil
}

// terminalView prints assistant text as it streams. A message that grows
// by appending is written as a delta; any other change reprints it.
type terminalView struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]string
	open    string
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, printed: make(map[string]string)}
}

func (v *terminalView) handle(e events.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev := e.(type) {
	case events.MessageReceived:
		if ev.Message.Role == message.RoleAssistant {
			v.renderLocked(ev.Message)
		}
	case events.ToolConfirmationRequested:
		v.endLineLocked()
		fmt.Fprintf(v.out, "[tool] %s needs approval: /approve %s or /deny %s\n",
			ev.Request.ToolName, ev.Request.ID, ev.Request.ID)
	case events.GenerationFinished:
		v.endLineLocked()
		if ev.Reason != events.ReasonComplete {
			fmt.Fprintf(v.out, "[%s]\n", ev.Reason)
		}
	case events.ChatError:
		v.endLineLocked()
		fmt.Fprintf(v.out, "error (%s): %s\n", ev.Code, ev.Message)
	case events.SessionLoaded:
		v.endLineLocked()
		fmt.Fprintf(v.out, "session %s (%d messages)\n", ev.SessionID, len(ev.Messages))
	}
}

func (v *terminalView) renderLocked(m message.Message) {
	text := m.Text()
	prev, seen := v.printed[m.ID]
	switch {
	case seen && text == prev:
		return
	case seen && v.open == m.ID && strings.HasPrefix(text, prev):
		fmt.Fprint(v.out, text[len(prev):])
	default:
		v.endLineLocked()
		fmt.Fprint(v.out, text)
	}
	v.printed[m.ID] = text
	v.open = m.ID
}

func (v *terminalView) endLineLocked() {
	if v.open != "" {
		fmt.Fprintln(v.out)
		v.open = ""
	}
}

func (v *terminalView) notice(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.endLineLocked()
	fmt.Fprintf(v.out, format+"\n", args...)
}

func (v *terminalView) prompt() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.endLineLocked()
	fmt.Fprint(v.out, "> ")
}
