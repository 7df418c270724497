// Package acp implements the Agent Client Protocol (ACP) driver for askhuman.
// Editors talk to the agent with newline-delimited JSON-RPC 2.0 over stdio.
//
// Methods:
//   - initialize: returns protocol version 1 and the agent's capabilities
//   - session/new: stores an empty session under a fresh id
//   - session/load: replays a stored conversation
//   - session/prompt: runs a prompt to the next pause or to the end of the turn
//   - session/decide: answers a pause with {sessionId, approved, text}
//
// session/prompt and session/decide return a stopReason of end_turn,
// awaiting_tool_approval or awaiting_human_approval. A paused result also
// lists the pending tool calls. Tool calls the agent may approve on its own
// are run without a round trip.
//
// Progress is streamed as session/update notifications carrying
// agent_message_chunk, tool_call and tool_result updates.
package acp
