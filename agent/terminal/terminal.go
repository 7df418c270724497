package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/askhuman/agent"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
)

var exitTokens = map[string]bool{"quit": true, "exit": true, "q": true}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent     *agent.Agent
	store     session.Store
	sessionID string
	in        *bufio.Scanner
	out       io.Writer

	readOnce sync.Once
	lines    chan string
	readErr  error
}

// New creates a new Terminal reading user input from in and writing prompts
// and replies to out.
func New(a *agent.Agent, store session.Store, sessionID string, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		agent:     a,
		store:     store,
		sessionID: sessionID,
		in:        bufio.NewScanner(in),
		out:       out,
		lines:     make(chan string),
	}
}

// Run starts the interactive terminal session. It returns when the user types
// an exit command, input reaches EOF or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.readOnce.Do(func() { go t.readInput(ctx) })

	if initialPrompt != "" {
		if !t.processTurn(ctx, initialPrompt) {
			return t.stopErr(ctx)
		}
	}

	for ctx.Err() == nil {
		userInput, ok := t.readLine(ctx, "User: ")
		if !ok {
			break
		}
		if userInput == "" {
			continue
		}
		if exitTokens[strings.ToLower(userInput)] {
			fmt.Fprintln(t.out, "Goodbye!")
			return nil
		}
		if !t.processTurn(ctx, userInput) {
			break
		}
	}
	return t.stopErr(ctx)
}

// readInput feeds input lines to the prompt loop until EOF or cancellation.
func (t *Terminal) readInput(ctx context.Context) {
	for t.in.Scan() {
		select {
		case t.lines <- t.in.Text():
		case <-ctx.Done():
			return
		}
	}
	t.readErr = t.in.Err()
	close(t.lines)
}

// stopErr reports why the loop stopped. Cancellation is a normal way out.
func (t *Terminal) stopErr(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	// Only reached once lines is closed, so readErr is set.
	return t.readErr
}

func (t *Terminal) readLine(ctx context.Context, prompt string) (string, bool) {
	fmt.Fprint(t.out, prompt)
	if ctx.Err() != nil {
		fmt.Fprintln(t.out)
		return "", false
	}
	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return "", false
	case line, ok := <-t.lines:
		if !ok || ctx.Err() != nil {
			fmt.Fprintln(t.out)
			return "", false
		}
		return strings.TrimSpace(line), true
	}
}

// processTurn runs one user turn including its approval prompts. It returns
// false when input ended or ctx was cancelled while the turn was running.
func (t *Terminal) processTurn(ctx context.Context, userInput string) bool {
	cp, err := session.Load(ctx, t.store, t.sessionID)
	if err != nil {
		t.report(err)
		return true
	}
	callbacks := t.callbacks()

	out, err := t.agent.ProcessUserInput(ctx, cp, userInput, callbacks)
	for {
		t.save(ctx, cp)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			t.report(err)
			return true
		}

		var d agent.Decision
		switch out.Status {
		case agent.StatusAwaitingToolApproval:
			var ok bool
			if d, ok = t.askToolApproval(ctx, out.Pending); !ok {
				return false
			}
		case agent.StatusAwaitingHumanApproval:
			var ok bool
			if d, ok = t.askHuman(ctx); !ok {
				return false
			}
		default:
			return true
		}
		out, err = t.agent.Decide(ctx, cp, d, callbacks)
	}
}

func (t *Terminal) askToolApproval(ctx context.Context, pending []session.ToolCall) (agent.Decision, bool) {
	if t.agent.AutoApproves(pending) {
		return agent.Decision{Approved: true}, true
	}
	for _, tc := range pending {
		fmt.Fprintf(t.out, "Assistant wants to call tool `%s` with args: %v\n", tc.Name, tc.Args)
	}
	answer, ok := t.readLine(ctx, "Approve? (y/n): ")
	if !ok {
		return agent.Decision{}, false
	}
	if strings.ToLower(answer) == "y" {
		return agent.Decision{Approved: true}, true
	}
	text, ok := t.readLine(ctx, "Provide your input: ")
	if !ok {
		return agent.Decision{}, false
	}
	return agent.Decision{Approved: false, Text: text}, true
}

func (t *Terminal) askHuman(ctx context.Context) (agent.Decision, bool) {
	fmt.Fprintln(t.out, "Human intervention required.")
	answer, ok := t.readLine(ctx, "Assistance? (y/n): ")
	if !ok {
		return agent.Decision{}, false
	}
	if strings.ToLower(answer) != "y" {
		return agent.Decision{Approved: false}, true
	}
	text, ok := t.readLine(ctx, "Provide your input: ")
	if !ok {
		return agent.Decision{}, false
	}
	return agent.Decision{Approved: true, Text: text}, true
}

func (t *Terminal) callbacks() agent.ProcessCallbacks {
	return agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			fmt.Fprintf(t.out, "Assistant: %s\n", message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintf(t.out, "Calling tool `%s` with args: %v\n", toolCall.Name, toolCall.Args)
			case agent.ToolVerbosityInfo:
				fmt.Fprintf(t.out, "Calling tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		OnWarning: func(warning string) {
			fmt.Fprintf(t.out, "Warning: %s\n", warning)
		},
	}
}

func (t *Terminal) save(ctx context.Context, cp *session.Checkpoint) {
	if err := t.store.Put(ctx, cp); err != nil {
		logging.Warn().
			Add(logging.Component("terminal")).
			Add(logging.SessionID(cp.SessionID)).
			Add(logging.ErrorField(err)).
			Msg("failed to save session")
	}
}

// report prints a failed turn. Missing input at a prompt is the user's choice,
// anything else is logged as an error.
func (t *Terminal) report(err error) {
	if errors.ClassOf(err) == errors.ClassUserInput {
		fmt.Fprintln(t.out, "No input provided. Skipping.")
		return
	}
	logging.Error().
		Add(logging.Component("terminal")).
		Add(logging.SessionID(t.sessionID)).
		Add(logging.Str("class", errors.ClassOf(err).String())).
		Add(logging.ErrorField(err)).
		Msg("turn failed")
	fmt.Fprintf(t.out, "Error: %v\n", err)
}
