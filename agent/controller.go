package agent

import (
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
)

// StatusOf maps the checkpoint's next node onto the statechart.
func StatusOf(cp *session.Checkpoint) Status {
	switch cp.Next {
	case session.NodeAssistant:
		return StatusRunning
	case session.NodeTools:
		return StatusAwaitingToolApproval
	case session.NodeHuman:
		return StatusAwaitingHumanApproval
	default:
		return StatusEnded
	}
}

func nodeFor(s Status) session.Node {
	switch s {
	case StatusRunning:
		return session.NodeAssistant
	case StatusAwaitingToolApproval:
		return session.NodeTools
	case StatusAwaitingHumanApproval:
		return session.NodeHuman
	default:
		return session.NodeEnd
	}
}

// controller drives one checkpoint through the statechart for the duration of
// a single call. It keeps cp.Next in step with the interpreter.
type controller struct {
	interp *statekit.Interpreter[*machineContext]
	mctx   *machineContext
	cp     *session.Checkpoint
}

func newController(machine *statekit.MachineConfig[*machineContext], cp *session.Checkpoint) (*controller, error) {
	mctx := &machineContext{SessionID: cp.SessionID, State: &cp.State}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **machineContext) {
		*c = mctx
	})
	interp.Start()

	if status := StatusOf(cp); status != StatusRunning {
		snapshot := statekit.Snapshot[*machineContext]{
			MachineID:    machineID,
			CurrentState: statekit.StateID(status),
			Context:      mctx,
			CreatedAt:    time.Now(),
		}
		if err := interp.Restore(snapshot); err != nil {
			return nil, errors.Wrapf(err, "failed to restore session '%s' to %s", cp.SessionID, status)
		}
	}
	return &controller{interp: interp, mctx: mctx, cp: cp}, nil
}

func (c *controller) status() Status {
	return Status(c.interp.State().Value)
}

// send fires event, logs the transition and records the new node on the
// checkpoint. Events the current status does not accept, guards that reject,
// and failing actions are reported as caller state errors.
func (c *controller) send(event statekit.EventType) error {
	from := c.status()
	to, ok := transitions[from][event]
	if !ok {
		return errors.CallerState("event %s is not valid in status %s", event, from)
	}

	c.mctx.err = nil
	c.interp.Send(statekit.Event{Type: event})
	if c.mctx.err != nil {
		return c.mctx.err
	}
	if got := c.status(); got != to {
		return errors.CallerState("event %s left session in %s, expected %s", event, got, to)
	}

	c.cp.Next = nodeFor(to)
	logging.Info().
		Add(logging.Component("controller")).
		Add(logging.SessionID(c.cp.SessionID)).
		Add(logging.FromStatus(string(from))).
		Add(logging.ToStatus(string(to))).
		Add(logging.Event(string(event))).
		Msg("transition")
	return nil
}
