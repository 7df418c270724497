// Package agent provides the conversation loop shared by the terminal and ACP
// drivers.
//
// # Architecture
//
// A turn runs through three parts:
//
//   - Step calls the language model with the full message log and the declared
//     tools, and derives whether the reply escalates to a human.
//   - The controller moves a session through an approval statechart with the
//     states running, awaiting_tool_approval, awaiting_human_approval and ended.
//   - The human gate runs whenever a session leaves the human approval pause
//     and answers any escalation call still open.
//
// Tool calls and escalations always pause. Nothing runs until a Decision
// arrives through Decide, or a new user message abandons the pause.
//
// # Usage
//
//	a, err := agent.New(cfg, registry, toolset, mode, llmClient, verbosity)
//	if err != nil {
//	    // handle error
//	}
//
//	cp, err := session.Load(ctx, store, "chatbot_1")
//	out, err := a.ProcessUserInput(ctx, cp, "What's the weather in Paris?", callbacks)
//	for out.Status == agent.StatusAwaitingToolApproval {
//	    out, err = a.Decide(ctx, cp, agent.Decision{Approved: true}, callbacks)
//	}
//	err = store.Put(ctx, cp)
//
// The checkpoint is owned by the caller. The agent only mutates it for the
// duration of one call.
//
// # Decisions
//
// A decision applies to every call pending in the turn:
//
//   - Approving tool calls runs each of them and resumes the model.
//   - Rejecting tool calls requires replacement text. It answers every pending
//     call and becomes the final reply of the turn without another model call.
//   - Approving an escalation requires the human's answer, which becomes the
//     escalation call's result.
//   - Rejecting an escalation answers it with a fixed fallback text.
//
// Missing text is a user input error and leaves the pause in place.
//
// # Modes
//
//   - ModePrompt: every tool call waits for a decision.
//   - ModeAuto: drivers approve tool calls on the user's behalf. Escalations
//     always wait. See Agent.AutoApproves.
//
// # Callbacks
//
// ProcessCallbacks lets each driver render a turn its own way, printing to the
// terminal or sending JSON-RPC notifications.
package agent
