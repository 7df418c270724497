package agent

import (
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

const (
	// NoHumanResponse answers an escalation the human left unanswered.
	NoHumanResponse = "No response from human."
	// ToolNotApproved answers tool calls abandoned by a new user message.
	ToolNotApproved = "Tool call was not approved."
	// ExpertFallback answers an escalation the human declined.
	ExpertFallback = "We, the experts are here to help! We'd recommend you check out LangGraph to build your agent. It's much more reliable and extensible than simple autonomous agents."
)

// humanGate runs whenever a conversation leaves the human approval pause. It
// makes sure no escalation call is left without a result and clears AskHuman.
func humanGate(sessionID string, st *session.State) error {
	last := st.Last()
	if _, ok := last.(session.ToolResultMessage); !ok {
		result, ok := session.ResponseFor(NoHumanResponse, last)
		if !ok {
			logging.Warn().
				Add(logging.Component("gate")).
				Add(logging.SessionID(sessionID)).
				Add(logging.ToolCallID(result.ToolCallID)).
				Msg("no tool call to answer, using placeholder id")
		}
		if err := st.Append(result); err != nil {
			return err
		}
	}
	for _, tc := range st.PendingToolCalls() {
		if err := st.Append(session.ResultFor(tc, NoHumanResponse)); err != nil {
			return err
		}
	}
	st.AskHuman = false
	return nil
}

// closeDangling answers every pending tool call so a new user message never
// follows an unanswered request.
func closeDangling(st *session.State) error {
	for _, tc := range st.PendingToolCalls() {
		if err := st.Append(session.ResultFor(tc, ToolNotApproved)); err != nil {
			return err
		}
	}
	return nil
}

// escalationCall returns the pending call the human's answer belongs to.
func escalationCall(st *session.State) (session.ToolCall, bool) {
	for _, tc := range st.PendingToolCalls() {
		if tc.Name == tools.RequestAssistanceToolName {
			return tc, true
		}
	}
	return session.ToolCall{}, false
}
