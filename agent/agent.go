package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/m4xw311/askhuman/config"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/llm"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

type Agent struct {
	Config         *config.Config
	LLMClient      llm.LLMClient
	AvailableTools []tools.Tool
	Mode           Mode
	Verbosity      ToolVerbosity

	approver *tools.Matcher
	machine  *statekit.MachineConfig[*machineContext]
}

// ProcessCallbacks lets a driver observe a turn as it happens.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	OnWarning          func(warning string)
}

// Update is what one Assistant Step adds to the state.
type Update struct {
	Messages []session.Message
	AskHuman bool
}

// Decision is the external answer to an approval pause. It applies to every
// call pending in the turn.
type Decision struct {
	Approved bool
	Text     string
}

// Outcome reports where a call left the conversation.
type Outcome struct {
	Status  Status
	Reply   string
	Pending []session.ToolCall
}

func New(cfg *config.Config, registry *tools.ToolRegistry, toolset string, mode Mode, client llm.LLMClient, verbosity ToolVerbosity) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}
	approver, err := tools.NewMatcher(cfg.Approval.AutoApprove)
	if err != nil {
		return nil, err
	}
	machine, err := newMachine()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build approval statechart")
	}

	declared := activeTools
	if !hasTool(declared, tools.RequestAssistanceToolName) {
		declared = append(declared, tools.RequestAssistanceTool{})
	}

	return &Agent{
		Config:         cfg,
		LLMClient:      client,
		AvailableTools: declared,
		Mode:           mode,
		Verbosity:      verbosity,
		approver:       approver,
		machine:        machine,
	}, nil
}

func hasTool(ts []tools.Tool, name string) bool {
	for _, t := range ts {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// Step calls the model with the full log and returns its reply. An empty log
// yields an empty update without calling the model.
func (a *Agent) Step(ctx context.Context, st session.State) (Update, error) {
	if len(st.Messages) == 0 {
		logging.Error().
			Add(logging.Component("agent")).
			Add(logging.ErrorField(errors.CallerState("assistant step called with an empty message log"))).
			Msg("skipping model call")
		return Update{}, nil
	}

	start := time.Now()
	reply, err := a.LLMClient.Chat(ctx, st.Messages, a.AvailableTools)
	if err != nil {
		return Update{}, errors.Collaborator(err, "LLM chat failed")
	}
	if reply == nil {
		reply = &session.AssistantMessage{}
	}
	logging.Debug().
		Add(logging.Component("agent")).
		Add(logging.Messages(len(st.Messages))).
		Add(logging.Duration(time.Since(start))).
		Msg("model replied")

	return Update{
		Messages: []session.Message{*reply},
		AskHuman: reply.HasToolCall(tools.RequestAssistanceToolName),
	}, nil
}

// ProcessUserInput appends the user's message and runs the conversation to the
// next pause or to its end. A pending pause is resolved first: tool calls are
// closed as not approved and an escalation passes through the human gate.
func (a *Agent) ProcessUserInput(ctx context.Context, cp *session.Checkpoint, userInput string, callbacks ProcessCallbacks) (Outcome, error) {
	c, err := newController(a.machine, cp)
	if err != nil {
		return Outcome{}, err
	}
	defer cp.Touch()

	if c.status() != StatusRunning {
		if err := c.send(EventUserMessage); err != nil {
			return a.outcome(c), err
		}
	}
	if err := cp.State.Append(session.UserMessage{Content: userInput}); err != nil {
		return a.outcome(c), err
	}
	return a.advance(ctx, c, callbacks)
}

// Decide resolves the current approval pause and, unless the decision ends
// the turn, resumes the conversation.
func (a *Agent) Decide(ctx context.Context, cp *session.Checkpoint, d Decision, callbacks ProcessCallbacks) (Outcome, error) {
	c, err := newController(a.machine, cp)
	if err != nil {
		return Outcome{}, err
	}
	defer cp.Touch()

	switch c.status() {
	case StatusAwaitingToolApproval:
		if err := a.decideTools(ctx, cp, d, callbacks); err != nil {
			return a.outcome(c), err
		}
	case StatusAwaitingHumanApproval:
		if err := a.decideHuman(cp, d, callbacks); err != nil {
			return a.outcome(c), err
		}
	default:
		return a.outcome(c), errors.CallerState("session '%s' has no pending approval", cp.SessionID)
	}

	logging.Info().
		Add(logging.Component("agent")).
		Add(logging.SessionID(cp.SessionID)).
		Add(logging.Approved(d.Approved)).
		Msg("approval decided")

	if err := c.send(EventResume); err != nil {
		return a.outcome(c), err
	}
	return a.advance(ctx, c, callbacks)
}

func (a *Agent) decideTools(ctx context.Context, cp *session.Checkpoint, d Decision, callbacks ProcessCallbacks) error {
	pending := cp.State.PendingToolCalls()
	if !d.Approved {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			return errors.UserInput("replacement text is required to reject tool calls")
		}
		for _, tc := range pending {
			if err := cp.State.Append(session.ResultFor(tc, text)); err != nil {
				return err
			}
		}
		return cp.State.Append(session.AssistantMessage{Content: text})
	}

	for _, tc := range pending {
		if callbacks.OnToolCall != nil {
			callbacks.OnToolCall(tc)
		}
		result, err := a.executeTool(ctx, tc)
		if err != nil {
			return err
		}
		if callbacks.OnToolResult != nil {
			callbacks.OnToolResult(tc, result)
		}
		if err := cp.State.Append(session.ResultFor(tc, result)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) decideHuman(cp *session.Checkpoint, d Decision, callbacks ProcessCallbacks) error {
	text := ExpertFallback
	if d.Approved {
		text = strings.TrimSpace(d.Text)
		if text == "" {
			return errors.UserInput("human input is required to answer the escalation")
		}
	}

	var result session.ToolResultMessage
	ok := true
	if tc, found := escalationCall(&cp.State); found {
		result = session.ResultFor(tc, text)
	} else {
		result, ok = session.ResponseFor(text, cp.State.Last())
	}
	if !ok {
		a.warn(callbacks, cp.SessionID, "no escalation call to answer, using placeholder id")
	}
	return cp.State.Append(result)
}

// executeTool runs one approved call. Unknown tools produce an error result
// instead of failing the turn.
func (a *Agent) executeTool(ctx context.Context, tc session.ToolCall) (string, error) {
	var tool tools.Tool
	for _, t := range a.AvailableTools {
		if t.Name() == tc.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		return fmt.Sprintf("Error: tool '%s' is not available", tc.Name), nil
	}

	start := time.Now()
	result, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		return "", errors.Collaborator(err, "tool '%s' failed", tc.Name)
	}
	logging.Debug().
		Add(logging.Component("agent")).
		Add(logging.ToolName(tc.Name)).
		Add(logging.ToolCallID(tc.ToolCallID)).
		Add(logging.Duration(time.Since(start))).
		Msg("tool executed")
	return result, nil
}

// advance moves a running conversation to its next pause or end. The model
// is called unless the newest message is already an assistant reply.
func (a *Agent) advance(ctx context.Context, c *controller, callbacks ProcessCallbacks) (Outcome, error) {
	st := &c.cp.State
	if _, ok := st.Last().(session.AssistantMessage); !ok {
		update, err := a.Step(ctx, *st)
		if err != nil {
			return a.outcome(c), err
		}
		if err := st.Append(update.Messages...); err != nil {
			return a.outcome(c), err
		}
		st.AskHuman = update.AskHuman
	}

	if am, ok := st.Last().(session.AssistantMessage); ok && am.Content != "" && callbacks.OnAssistantMessage != nil {
		callbacks.OnAssistantMessage(am.Content)
	}

	if err := c.send(route(st)); err != nil {
		return a.outcome(c), err
	}
	return a.outcome(c), nil
}

func (a *Agent) outcome(c *controller) Outcome {
	out := Outcome{Status: c.status()}
	switch out.Status {
	case StatusAwaitingToolApproval, StatusAwaitingHumanApproval:
		out.Pending = c.cp.State.PendingToolCalls()
	case StatusEnded:
		if am, ok := c.cp.State.Last().(session.AssistantMessage); ok {
			out.Reply = am.Content
		}
	}
	return out
}

// AutoApproves reports whether calls may run without asking: every call is
// covered by auto mode or an auto_approve pattern. Escalations always ask.
func (a *Agent) AutoApproves(calls []session.ToolCall) bool {
	if len(calls) == 0 {
		return false
	}
	for _, tc := range calls {
		if tc.Name == tools.RequestAssistanceToolName {
			return false
		}
		if a.Mode != ModeAuto && !a.approver.Approved(tc.Name) {
			return false
		}
	}
	return true
}

func (a *Agent) warn(callbacks ProcessCallbacks, sessionID, msg string) {
	logging.Warn().
		Add(logging.Component("agent")).
		Add(logging.SessionID(sessionID)).
		Msg(msg)
	if callbacks.OnWarning != nil {
		callbacks.OnWarning(msg)
	}
}
