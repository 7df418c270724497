package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/m4xw311/askhuman/agent"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
)

// JSON-RPC error codes used by the server.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Stop reasons returned by session/prompt and session/decide.
const (
	StopEndTurn               = "end_turn"
	StopAwaitingToolApproval  = "awaiting_tool_approval"
	StopAwaitingHumanApproval = "awaiting_human_approval"
)

// Run serves the Agent Client Protocol over newline-delimited JSON-RPC until in
// reaches EOF. Supported methods:
//   - initialize
//   - session/new
//   - session/load (replays history as session/update notifications)
//   - session/prompt
//   - session/decide
//
// Requests for different sessions run concurrently. Requests for the same
// session run one at a time in arrival order. Nothing but JSON-RPC messages is
// written to out.
func Run(ctx context.Context, a *agent.Agent, store session.Store, in *bufio.Reader, out *bufio.Writer) error {
	server := &acpServer{
		ctx:          ctx,
		agent:        a,
		store:        store,
		sessions:     make(map[string]*sessionQueue),
		StdinReader:  in,
		StdoutWriter: out,
		writeLock:    &sync.Mutex{},
	}
	defer server.inflight.Wait()

	server.trace("starting ACP server")
	for {
		payload, err := server.readFramedMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				server.trace("EOF received, exiting")
				return nil
			}
			// Broken framing leaves nothing safe to read.
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			server.trace(fmt.Sprintf("JSON parse error: %v", err))
			_ = server.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}

		server.trace(fmt.Sprintf("dispatching method %s with ID %v", req.Method, req.ID))
		switch req.Method {
		case "initialize":
			server.handleInitialize(&req)
		case "session/new":
			server.handleSessionNew(&req)
		case "session/load":
			server.dispatch(&req, server.handleSessionLoad)
		case "session/prompt":
			server.dispatch(&req, server.handleSessionPrompt)
		case "session/decide":
			server.dispatch(&req, server.handleSessionDecide)
		default:
			_ = server.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

// jsonrpcRequest is a JSON-RPC 2.0 request message.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response message.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// jsonrpcError is a JSON-RPC 2.0 error object.
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// sessionParams carries the session id every session-scoped method takes.
type sessionParams struct {
	SessionID string `json:"sessionId"`
}

type acpServer struct {
	ctx   context.Context
	agent *agent.Agent
	store session.Store

	// sessions holds the request queue of each session id.
	sessions     map[string]*sessionQueue
	sessionsLock sync.Mutex
	inflight     sync.WaitGroup

	StdinReader  *bufio.Reader
	StdoutWriter *bufio.Writer
	writeLock    *sync.Mutex
}

// sessionQueue holds the requests of one session that have not run yet. At
// most one goroutine drains it at a time.
type sessionQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (s *acpServer) trace(msg string) {
	logging.Trace().Add(logging.Component("acp")).Msg(msg)
}

func (s *acpServer) queue(id string) *sessionQueue {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	q, ok := s.sessions[id]
	if !ok {
		q = &sessionQueue{}
		s.sessions[id] = q
	}
	return q
}

// dispatch queues a session-scoped handler behind the session's earlier
// requests and returns without waiting, so a busy session never holds up the
// read loop.
func (s *acpServer) dispatch(req *jsonrpcRequest, handle func(*jsonrpcRequest, string)) {
	var p sessionParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionID == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "sessionId is required")
		return
	}

	q := s.queue(p.SessionID)
	s.inflight.Add(1)
	q.mu.Lock()
	q.pending = append(q.pending, func() { handle(req, p.SessionID) })
	if !q.running {
		q.running = true
		go s.drain(q)
	}
	q.mu.Unlock()
}

// drain runs the queued requests of one session in arrival order.
func (s *acpServer) drain(q *sessionQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		job()
		s.inflight.Done()
	}
}

// readFramedMessage reads a single JSON-RPC payload.
func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.StdinReader.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}
	return line, nil
}

// writeFramedJSON serializes obj and writes it followed by a newline.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.trace(fmt.Sprintf("write: %s", string(data)))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.StdoutWriter.Write(data); err != nil {
		return err
	}
	if err := s.StdoutWriter.WriteByte('\n'); err != nil {
		return err
	}
	return s.StdoutWriter.Flush()
}

func (s *acpServer) writeResponseOK(id any, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return s.writeResponseError(id, codeInternalError, "Internal error", err.Error())
	}
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  raw,
	})
}

func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &jsonrpcError{
			Code:    code,
			Message: msg,
			Data:    data,
		},
	})
}

// writeAgentError maps an agent error onto a JSON-RPC error. Caller mistakes
// and missing input are the client's to fix; anything else is internal.
func (s *acpServer) writeAgentError(id any, sessionID string, err error) {
	class := errors.ClassOf(err)
	logging.Warn().
		Add(logging.Component("acp")).
		Add(logging.SessionID(sessionID)).
		Add(logging.Str("class", class.String())).
		Add(logging.ErrorField(err)).
		Msg("request failed")

	switch class {
	case errors.ClassCallerState, errors.ClassUserInput:
		_ = s.writeResponseError(id, codeInvalidParams, "Invalid params", err.Error())
	default:
		_ = s.writeResponseError(id, codeInternalError, "Internal error", err.Error())
	}
}

func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// ---- Handlers ----

// handleInitialize answers with protocol version 1 and the agent's
// capabilities.
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	type initParams struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	var p initParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.trace(fmt.Sprintf("initialize: ignoring malformed params: %v", err))
		}
	}

	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew stores an empty checkpoint under a fresh session id.
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	sid := "sess_" + uuid.NewString()
	if err := s.store.Put(s.ctx, session.New(sid)); err != nil {
		s.writeAgentError(req.ID, sid, errors.Wrapf(err, "failed to create session"))
		return
	}
	logging.Info().
		Add(logging.Component("acp")).
		Add(logging.SessionID(sid)).
		Msg("session created")
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad replays a stored conversation as session/update
// notifications and answers null once the replay is complete.
func (s *acpServer) handleSessionLoad(req *jsonrpcRequest, sid string) {
	cp, err := s.store.Get(s.ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %s", sid))
			return
		}
		s.writeAgentError(req.ID, sid, err)
		return
	}

	for _, msg := range cp.State.Messages {
		switch m := msg.(type) {
		case session.UserMessage:
			_ = s.sendMessageChunk(sid, "user_message_chunk", m.Content)
		case session.AssistantMessage:
			if m.Content != "" {
				_ = s.sendMessageChunk(sid, "agent_message_chunk", m.Content)
			}
			for _, tc := range m.ToolCalls {
				_ = s.sendToolCallNotification(sid, tc)
			}
		case session.ToolResultMessage:
			_ = s.sendToolResultNotification(sid, m.ToolCallID, m.Content)
		}
	}
	_ = s.writeResponseOK(req.ID, nil)
}

// contentBlock is a content block of a prompt. Text and resource_link blocks
// are understood.
type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// turnResult is the result of session/prompt and session/decide.
type turnResult struct {
	StopReason       string            `json:"stopReason"`
	PendingToolCalls []pendingToolCall `json:"pendingToolCalls,omitempty"`
}

type pendingToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// handleSessionPrompt runs the user's prompt to the next pause or to the end
// of the turn.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest, sid string) {
	type promptParams struct {
		Prompt []contentBlock `json:"prompt"`
	}
	var p promptParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	userText := extractUserText(p.Prompt)
	if strings.TrimSpace(userText) == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "prompt has no text")
		return
	}

	cp, ok := s.checkpoint(req, sid)
	if !ok {
		return
	}
	callbacks := s.callbacks(sid)
	out, err := s.agent.ProcessUserInput(s.ctx, cp, userText, callbacks)
	s.finishTurn(req, cp, out, err, callbacks)
}

// handleSessionDecide answers the pause the session is waiting on.
func (s *acpServer) handleSessionDecide(req *jsonrpcRequest, sid string) {
	type decideParams struct {
		Approved bool   `json:"approved"`
		Text     string `json:"text"`
	}
	var p decideParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	cp, ok := s.checkpoint(req, sid)
	if !ok {
		return
	}
	callbacks := s.callbacks(sid)
	out, err := s.agent.Decide(s.ctx, cp, agent.Decision{Approved: p.Approved, Text: p.Text}, callbacks)
	s.finishTurn(req, cp, out, err, callbacks)
}

func (s *acpServer) checkpoint(req *jsonrpcRequest, sid string) (*session.Checkpoint, bool) {
	cp, err := s.store.Get(s.ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
			return nil, false
		}
		s.writeAgentError(req.ID, sid, err)
		return nil, false
	}
	return cp, true
}

// finishTurn approves tool pauses the agent may approve on its own, saves the
// checkpoint and answers the request.
func (s *acpServer) finishTurn(req *jsonrpcRequest, cp *session.Checkpoint, out agent.Outcome, err error, callbacks agent.ProcessCallbacks) {
	for err == nil && out.Status == agent.StatusAwaitingToolApproval && s.agent.AutoApproves(out.Pending) {
		out, err = s.agent.Decide(s.ctx, cp, agent.Decision{Approved: true}, callbacks)
	}
	if perr := s.store.Put(s.ctx, cp); perr != nil && err == nil {
		err = errors.Wrapf(perr, "failed to save session")
	}
	if err != nil {
		s.writeAgentError(req.ID, cp.SessionID, err)
		return
	}

	res := turnResult{StopReason: StopEndTurn}
	switch out.Status {
	case agent.StatusAwaitingToolApproval:
		res.StopReason = StopAwaitingToolApproval
	case agent.StatusAwaitingHumanApproval:
		res.StopReason = StopAwaitingHumanApproval
	}
	for _, tc := range out.Pending {
		res.PendingToolCalls = append(res.PendingToolCalls, pendingToolCall{ID: tc.ToolCallID, Name: tc.Name, Args: tc.Args})
	}
	_ = s.writeResponseOK(req.ID, res)
}

func (s *acpServer) callbacks(sid string) agent.ProcessCallbacks {
	return agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			_ = s.sendMessageChunk(sid, "agent_message_chunk", message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			_ = s.sendToolCallNotification(sid, toolCall)
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			_ = s.sendToolResultNotification(sid, toolCall.ToolCallID, result)
		},
		OnWarning: func(warning string) {
			s.trace(fmt.Sprintf("session %s: warning: %s", sid, warning))
		},
	}
}

func (s *acpServer) sendMessageChunk(sessionID, kind, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": kind,
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

func (s *acpServer) sendToolCallNotification(sessionID string, toolCall session.ToolCall) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_call",
			"toolCall": map[string]any{
				"id":   toolCall.ToolCallID,
				"name": toolCall.Name,
				"args": toolCall.Args,
			},
		},
	})
}

func (s *acpServer) sendToolResultNotification(sessionID, toolCallID, result string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": toolCallID,
				"result":     result,
			},
		},
	})
}

// maxResourceSize caps the inlined contents of a file resource.
const maxResourceSize = 50000

func readFileFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if u.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", u.Scheme)
	}
	content, err := os.ReadFile(u.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// truncateAtRune cuts s to at most n bytes without splitting a UTF-8 rune.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// extractUserText joins the prompt blocks into one user message. File
// resources are inlined, other resources are described.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxResourceSize {
				content = truncateAtRune(content, maxResourceSize) + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
