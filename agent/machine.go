package agent

import (
	"github.com/felixgeelhaar/statekit"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
)

// Status is the position of a conversation in the approval statechart.
type Status string

const (
	StatusRunning               Status = "running"
	StatusAwaitingToolApproval  Status = "awaiting_tool_approval"
	StatusAwaitingHumanApproval Status = "awaiting_human_approval"
	StatusEnded                 Status = "ended"
)

const (
	machineID = "approval"

	stateRunning               = statekit.StateID(StatusRunning)
	stateAwaitingToolApproval  = statekit.StateID(StatusAwaitingToolApproval)
	stateAwaitingHumanApproval = statekit.StateID(StatusAwaitingHumanApproval)
	stateEnded                 = statekit.StateID(StatusEnded)
)

const (
	EventEscalate    statekit.EventType = "ESCALATE"
	EventToolCalls   statekit.EventType = "TOOL_CALLS"
	EventFinish      statekit.EventType = "FINISH"
	EventResume      statekit.EventType = "RESUME"
	EventUserMessage statekit.EventType = "USER_MESSAGE"
)

// transitions lists the events each status accepts and where they lead.
// Events are checked against it before they reach the interpreter.
var transitions = map[Status]map[statekit.EventType]Status{
	StatusRunning: {
		EventEscalate:  StatusAwaitingHumanApproval,
		EventToolCalls: StatusAwaitingToolApproval,
		EventFinish:    StatusEnded,
	},
	StatusAwaitingToolApproval: {
		EventResume:      StatusRunning,
		EventUserMessage: StatusRunning,
	},
	StatusAwaitingHumanApproval: {
		EventResume:      StatusRunning,
		EventUserMessage: StatusRunning,
	},
	StatusEnded: {
		EventUserMessage: StatusRunning,
	},
}

// machineContext is the statechart context. State points into the checkpoint
// being processed; err collects failures of transition actions.
type machineContext struct {
	SessionID string
	State     *session.State
	err       error
}

// newMachine builds the approval statechart.
func newMachine() (*statekit.MachineConfig[*machineContext], error) {
	return statekit.NewMachine[*machineContext](machineID).
		WithInitial(stateRunning).
		WithContext(&machineContext{}).
		WithAction("logEntry", logEntry).
		WithAction("closeDangling", closeDanglingAction).
		WithAction("humanGate", humanGateAction).
		WithGuard("escalationRequested", guardEscalationRequested).
		WithGuard("toolCallsPending", guardToolCallsPending).
		WithGuard("nothingPending", guardNothingPending).
		State(stateRunning).
			OnEntry("logEntry").
			On(EventEscalate).Target(stateAwaitingHumanApproval).Guard("escalationRequested").
			On(EventToolCalls).Target(stateAwaitingToolApproval).Guard("toolCallsPending").
			On(EventFinish).Target(stateEnded).Guard("nothingPending").
			Done().
		State(stateAwaitingToolApproval).
			OnEntry("logEntry").
			On(EventResume).Target(stateRunning).
			On(EventUserMessage).Target(stateRunning).Do("closeDangling").
			Done().
		State(stateAwaitingHumanApproval).
			OnEntry("logEntry").
			On(EventResume).Target(stateRunning).Do("humanGate").
			On(EventUserMessage).Target(stateRunning).Do("humanGate").
			Done().
		State(stateEnded).
			OnEntry("logEntry").
			On(EventUserMessage).Target(stateRunning).
			Done().
		Build()
}

func logEntry(ctx **machineContext, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	logging.Trace().
		Add(logging.Component("controller")).
		Add(logging.SessionID((*ctx).SessionID)).
		Add(logging.Event(string(event.Type))).
		Msg("entered state")
}

func closeDanglingAction(ctx **machineContext, _ statekit.Event) {
	if ctx == nil || *ctx == nil || (*ctx).State == nil {
		return
	}
	c := *ctx
	if err := closeDangling(c.State); err != nil {
		c.err = err
	}
}

func humanGateAction(ctx **machineContext, _ statekit.Event) {
	if ctx == nil || *ctx == nil || (*ctx).State == nil {
		return
	}
	c := *ctx
	if err := humanGate(c.SessionID, c.State); err != nil {
		c.err = err
	}
}

func guardEscalationRequested(ctx *machineContext, _ statekit.Event) bool {
	return ctx != nil && ctx.State != nil && ctx.State.AskHuman
}

func guardToolCallsPending(ctx *machineContext, _ statekit.Event) bool {
	if ctx == nil || ctx.State == nil {
		return false
	}
	return !ctx.State.AskHuman && len(ctx.State.PendingToolCalls()) > 0
}

func guardNothingPending(ctx *machineContext, _ statekit.Event) bool {
	if ctx == nil || ctx.State == nil {
		return false
	}
	return !ctx.State.AskHuman && len(ctx.State.PendingToolCalls()) == 0
}

// route picks the event that leaves running. Escalation beats tool calls and
// tool calls beat finishing.
func route(st *session.State) statekit.EventType {
	switch {
	case st.AskHuman:
		return EventEscalate
	case len(st.PendingToolCalls()) > 0:
		return EventToolCalls
	default:
		return EventFinish
	}
}
