package agent

import (
	"context"
	"testing"

	"github.com/m4xw311/askhuman/config"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/search"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

// scriptedLLM returns its replies in order and records what it was sent.
type scriptedLLM struct {
	replies []*session.AssistantMessage
	err     error
	calls   int
	seen    [][]session.Message
}

func (s *scriptedLLM) Chat(_ context.Context, messages []session.Message, _ []tools.Tool) (*session.AssistantMessage, error) {
	s.calls++
	s.seen = append(s.seen, append([]session.Message(nil), messages...))
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &session.AssistantMessage{Content: "done"}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func searchCall(id, query string) session.ToolCall {
	return session.ToolCall{ToolCallID: id, Name: tools.SearchToolName, Args: map[string]interface{}{"query": query}}
}

func escalationCallFor(id, request string) session.ToolCall {
	return session.ToolCall{ToolCallID: id, Name: tools.RequestAssistanceToolName, Args: map[string]interface{}{"request": request}}
}

func newTestAgent(t *testing.T, llm *scriptedLLM, s *fakeSearcher) *Agent {
	t.Helper()
	if s == nil {
		s = &fakeSearcher{}
	}
	cfg := config.Default()
	registry := tools.NewToolRegistry(context.Background(), cfg, tools.NewSearchTool(s))
	a, err := New(cfg, registry, "", ModePrompt, llm, ToolVerbosityInfo)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestNewDeclaresEscalation(t *testing.T) {
	a := newTestAgent(t, &scriptedLLM{}, nil)
	if len(a.AvailableTools) != 2 {
		t.Fatalf("expected search and escalation tools, got %d", len(a.AvailableTools))
	}
	if !hasTool(a.AvailableTools, tools.SearchToolName) || !hasTool(a.AvailableTools, tools.RequestAssistanceToolName) {
		t.Errorf("unexpected declared tools %v", a.AvailableTools)
	}
}

func TestStepEmptyLogSkipsModel(t *testing.T) {
	llm := &scriptedLLM{}
	a := newTestAgent(t, llm, nil)

	update, err := a.Step(context.Background(), session.State{})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(update.Messages) != 0 || update.AskHuman {
		t.Errorf("expected an empty update, got %+v", update)
	}
	if llm.calls != 0 {
		t.Errorf("model should not be called, got %d calls", llm.calls)
	}
}

func TestStepEscalationFlag(t *testing.T) {
	testCases := []struct {
		name     string
		reply    *session.AssistantMessage
		askHuman bool
	}{
		{"Text", &session.AssistantMessage{Content: "Hello"}, false},
		{"Search", &session.AssistantMessage{ToolCalls: []session.ToolCall{searchCall("c1", "weather")}}, false},
		{"Escalation", &session.AssistantMessage{ToolCalls: []session.ToolCall{escalationCallFor("c1", "help")}}, true},
		{"Both", &session.AssistantMessage{ToolCalls: []session.ToolCall{searchCall("c1", "x"), escalationCallFor("c2", "help")}}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAgent(t, &scriptedLLM{replies: []*session.AssistantMessage{tc.reply}}, nil)
			update, err := a.Step(context.Background(), session.State{Messages: session.Log{session.UserMessage{Content: "hi"}}})
			if err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			if len(update.Messages) != 1 {
				t.Fatalf("expected exactly one message, got %d", len(update.Messages))
			}
			if _, ok := update.Messages[0].(session.AssistantMessage); !ok {
				t.Errorf("expected an assistant message, got %T", update.Messages[0])
			}
			if update.AskHuman != tc.askHuman {
				t.Errorf("AskHuman = %v, want %v", update.AskHuman, tc.askHuman)
			}
		})
	}
}

func TestStepModelFailureIsCollaboratorError(t *testing.T) {
	a := newTestAgent(t, &scriptedLLM{err: errors.New("503")}, nil)
	_, err := a.Step(context.Background(), session.State{Messages: session.Log{session.UserMessage{Content: "hi"}}})
	if errors.ClassOf(err) != errors.ClassCollaborator {
		t.Errorf("expected a collaborator error, got %v", err)
	}
}

func TestSearchCallPausesForApproval(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{searchCall("call_1", "weather in Paris")}},
	}}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")

	out, err := a.ProcessUserInput(context.Background(), cp, "What's the weather in Paris?", ProcessCallbacks{})
	if err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	if out.Status != StatusAwaitingToolApproval {
		t.Fatalf("Status = %s, want %s", out.Status, StatusAwaitingToolApproval)
	}
	if cp.Next != session.NodeTools {
		t.Errorf("Next = %s, want %s", cp.Next, session.NodeTools)
	}
	if cp.State.AskHuman {
		t.Error("AskHuman should be false for a search call")
	}
	if len(out.Pending) != 1 || out.Pending[0].ToolCallID != "call_1" {
		t.Errorf("unexpected pending calls %+v", out.Pending)
	}
}

func TestApprovedToolCallsRunAndResume(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{searchCall("call_1", "weather in Paris"), searchCall("call_2", "weather in Lyon")}},
		{Content: "It is 18C in Paris and 20C in Lyon."},
	}}
	s := &fakeSearcher{results: []search.Result{{Title: "Forecast", URL: "https://example.com", Content: "18C"}}}
	a := newTestAgent(t, llm, s)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "weather?", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}

	var called, results []string
	var replies []string
	cb := ProcessCallbacks{
		OnToolCall:         func(tc session.ToolCall) { called = append(called, tc.ToolCallID) },
		OnToolResult:       func(tc session.ToolCall, _ string) { results = append(results, tc.ToolCallID) },
		OnAssistantMessage: func(m string) { replies = append(replies, m) },
	}
	out, err := a.Decide(ctx, cp, Decision{Approved: true}, cb)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Status != StatusEnded || out.Reply != "It is 18C in Paris and 20C in Lyon." {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(s.queries) != 2 {
		t.Errorf("expected both calls to run, searcher saw %v", s.queries)
	}
	if len(called) != 2 || len(results) != 2 || len(replies) != 1 {
		t.Errorf("callbacks: calls=%v results=%v replies=%v", called, results, replies)
	}
	if llm.calls != 2 {
		t.Errorf("expected two model calls, got %d", llm.calls)
	}
	// The second model call sees both results.
	last := llm.seen[1]
	if tr, ok := last[len(last)-1].(session.ToolResultMessage); !ok || tr.ToolCallID != "call_2" {
		t.Errorf("model did not receive the tool results: %+v", last)
	}
	if cp.Next != session.NodeEnd {
		t.Errorf("Next = %s, want %s", cp.Next, session.NodeEnd)
	}
}

func TestRejectedToolCallUsesReplacementText(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{searchCall("call_1", "weather in Paris")}},
	}}
	s := &fakeSearcher{}
	a := newTestAgent(t, llm, s)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "What's the weather in Paris?", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	out, err := a.Decide(ctx, cp, Decision{Approved: false, Text: "It's sunny."}, ProcessCallbacks{})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	msgs := cp.State.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	tr, ok := msgs[2].(session.ToolResultMessage)
	if !ok || tr.ToolCallID != "call_1" || tr.Content != "It's sunny." {
		t.Errorf("expected the rejected call to be answered with the replacement, got %+v", msgs[2])
	}
	if am, ok := msgs[3].(session.AssistantMessage); !ok || am.Content != "It's sunny." {
		t.Errorf("expected a follow-up assistant message, got %+v", msgs[3])
	}
	if out.Status != StatusEnded || out.Reply != "It's sunny." {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(s.queries) != 0 {
		t.Error("a rejected call must not run")
	}
	if llm.calls != 1 {
		t.Errorf("rejection should not call the model again, got %d calls", llm.calls)
	}
}

func TestEscalationRejectedUsesFallback(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{escalationCallFor("call_h", "refund policy")}},
		{Content: "The experts suggest LangGraph."},
	}}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	out, err := a.ProcessUserInput(ctx, cp, "I need an expert on the refund policy", ProcessCallbacks{})
	if err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	if out.Status != StatusAwaitingHumanApproval || !cp.State.AskHuman {
		t.Fatalf("expected a human pause, got %+v ask_human=%v", out, cp.State.AskHuman)
	}
	if cp.Next != session.NodeHuman {
		t.Errorf("Next = %s, want %s", cp.Next, session.NodeHuman)
	}

	out, err = a.Decide(ctx, cp, Decision{Approved: false}, ProcessCallbacks{})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	tr, ok := cp.State.Messages[2].(session.ToolResultMessage)
	if !ok || tr.ToolCallID != "call_h" || tr.Content != ExpertFallback {
		t.Errorf("expected the fallback answer, got %+v", cp.State.Messages[2])
	}
	if cp.State.AskHuman {
		t.Error("AskHuman should be cleared after the gate")
	}
	if out.Status != StatusEnded || out.Reply != "The experts suggest LangGraph." {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestEscalationBeatsToolCalls(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{searchCall("call_s", "refunds"), escalationCallFor("call_h", "refund policy")}},
		{Content: "An expert answered."},
	}}
	s := &fakeSearcher{}
	a := newTestAgent(t, llm, s)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	out, err := a.ProcessUserInput(ctx, cp, "refunds?", ProcessCallbacks{})
	if err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	if out.Status != StatusAwaitingHumanApproval {
		t.Fatalf("Status = %s, want %s", out.Status, StatusAwaitingHumanApproval)
	}

	if _, err := a.Decide(ctx, cp, Decision{Approved: true, Text: "30 days, no questions asked."}, ProcessCallbacks{}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	answers := map[string]string{}
	for _, m := range cp.State.Messages {
		if tr, ok := m.(session.ToolResultMessage); ok {
			answers[tr.ToolCallID] = tr.Content
		}
	}
	if answers["call_h"] != "30 days, no questions asked." {
		t.Errorf("escalation answer = %q", answers["call_h"])
	}
	if answers["call_s"] != NoHumanResponse {
		t.Errorf("other pending call should be closed by the gate, got %q", answers["call_s"])
	}
	if len(s.queries) != 0 {
		t.Error("search must not run during an escalation")
	}
}

func TestEmptyTextKeepsPause(t *testing.T) {
	testCases := []struct {
		name   string
		reply  *session.AssistantMessage
		d      Decision
		status Status
	}{
		{"ToolRejection", &session.AssistantMessage{ToolCalls: []session.ToolCall{searchCall("c", "weather")}}, Decision{Approved: false, Text: "  "}, StatusAwaitingToolApproval},
		{"HumanApproval", &session.AssistantMessage{ToolCalls: []session.ToolCall{escalationCallFor("c", "expert")}}, Decision{Approved: true}, StatusAwaitingHumanApproval},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAgent(t, &scriptedLLM{replies: []*session.AssistantMessage{tc.reply}}, nil)
			cp := session.New("chatbot_1")
			ctx := context.Background()
			if _, err := a.ProcessUserInput(ctx, cp, "hi", ProcessCallbacks{}); err != nil {
				t.Fatalf("ProcessUserInput failed: %v", err)
			}
			before := len(cp.State.Messages)

			out, err := a.Decide(ctx, cp, tc.d, ProcessCallbacks{})
			if errors.ClassOf(err) != errors.ClassUserInput {
				t.Fatalf("expected a user input error, got %v", err)
			}
			if out.Status != tc.status || StatusOf(cp) != tc.status {
				t.Errorf("pause should remain, got %s / %s", out.Status, StatusOf(cp))
			}
			if len(cp.State.Messages) != before {
				t.Errorf("no update expected, log grew from %d to %d", before, len(cp.State.Messages))
			}
		})
	}
}

func TestUserMessageClosesPendingToolCalls(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{searchCall("call_1", "weather")}},
		{Content: "Sure, I can do that instead."},
	}}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "weather?", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	out, err := a.ProcessUserInput(ctx, cp, "never mind, tell me a joke", ProcessCallbacks{})
	if err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	if out.Status != StatusEnded {
		t.Errorf("Status = %s, want %s", out.Status, StatusEnded)
	}
	tr, ok := cp.State.Messages[2].(session.ToolResultMessage)
	if !ok || tr.Content != ToolNotApproved || tr.ToolCallID != "call_1" {
		t.Errorf("expected the abandoned call to be closed, got %+v", cp.State.Messages[2])
	}
	if um, ok := cp.State.Messages[3].(session.UserMessage); !ok || um.Content != "never mind, tell me a joke" {
		t.Errorf("expected the new user message after the closed call, got %+v", cp.State.Messages[3])
	}
}

func TestUserMessageDuringEscalationPassesGate(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{escalationCallFor("call_h", "expert please")}},
		{Content: "OK."},
	}}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "expert please", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	if _, err := a.ProcessUserInput(ctx, cp, "actually, forget it", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	tr, ok := cp.State.Messages[2].(session.ToolResultMessage)
	if !ok || tr.Content != NoHumanResponse || tr.ToolCallID != "call_h" {
		t.Errorf("expected the placeholder answer, got %+v", cp.State.Messages[2])
	}
	if cp.State.AskHuman {
		t.Error("AskHuman should be cleared")
	}
}

func TestAnsweredCallDoesNotReraiseEscalation(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{escalationCallFor("call_h", "help")}},
		{Content: "Thanks to the expert, here is your answer."},
	}}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "expert help", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	out, err := a.Decide(ctx, cp, Decision{Approved: true, Text: "Use the refund form."}, ProcessCallbacks{})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if len(cp.State.PendingToolCalls()) != 0 {
		t.Errorf("no call should remain pending, got %+v", cp.State.PendingToolCalls())
	}
	if cp.State.AskHuman || out.Status != StatusEnded {
		t.Errorf("escalation re-raised: ask_human=%v status=%s", cp.State.AskHuman, out.Status)
	}
}

func TestUnknownToolProducesErrorResult(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{{ToolCallID: "call_x", Name: "shell"}}},
		{Content: "I cannot run that."},
	}}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "run ls", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	if _, err := a.Decide(ctx, cp, Decision{Approved: true}, ProcessCallbacks{}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	tr, ok := cp.State.Messages[2].(session.ToolResultMessage)
	if !ok || tr.Content != "Error: tool 'shell' is not available" {
		t.Errorf("unexpected result %+v", cp.State.Messages[2])
	}
}

func TestToolFailureKeepsPause(t *testing.T) {
	llm := &scriptedLLM{replies: []*session.AssistantMessage{
		{ToolCalls: []session.ToolCall{searchCall("call_1", "weather")}},
	}}
	a := newTestAgent(t, llm, &fakeSearcher{err: errors.New("search API returned 500")})
	cp := session.New("chatbot_1")
	ctx := context.Background()

	if _, err := a.ProcessUserInput(ctx, cp, "weather?", ProcessCallbacks{}); err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}
	out, err := a.Decide(ctx, cp, Decision{Approved: true}, ProcessCallbacks{})
	if errors.ClassOf(err) != errors.ClassCollaborator {
		t.Fatalf("expected a collaborator error, got %v", err)
	}
	if out.Status != StatusAwaitingToolApproval || len(cp.State.PendingToolCalls()) != 1 {
		t.Errorf("pause should remain with the call pending: %+v", out)
	}
}

func TestModelFailureAbortsTurn(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("connection refused")}
	a := newTestAgent(t, llm, nil)
	cp := session.New("chatbot_1")
	ctx := context.Background()

	_, err := a.ProcessUserInput(ctx, cp, "hello", ProcessCallbacks{})
	if errors.ClassOf(err) != errors.ClassCollaborator {
		t.Fatalf("expected a collaborator error, got %v", err)
	}
	if cp.Next != session.NodeAssistant || len(cp.State.Messages) != 1 {
		t.Errorf("user message should be kept for the next turn: next=%s log=%d", cp.Next, len(cp.State.Messages))
	}

	llm.err = nil
	out, err := a.ProcessUserInput(ctx, cp, "hello again", ProcessCallbacks{})
	if err != nil {
		t.Fatalf("session should continue after a failed turn: %v", err)
	}
	if out.Status != StatusEnded || out.Reply != "done" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestDecideWithoutPause(t *testing.T) {
	a := newTestAgent(t, &scriptedLLM{}, nil)
	cp := session.New("chatbot_1")
	_, err := a.Decide(context.Background(), cp, Decision{Approved: true}, ProcessCallbacks{})
	if errors.ClassOf(err) != errors.ClassCallerState {
		t.Errorf("expected a caller state error, got %v", err)
	}
}

func TestAutoApproves(t *testing.T) {
	a := newTestAgent(t, &scriptedLLM{}, nil)
	matcher, err := tools.NewMatcher([]string{"tavily_*"})
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name     string
		mode     Mode
		approver *tools.Matcher
		calls    []session.ToolCall
		want     bool
	}{
		{"PromptNoPatterns", ModePrompt, nil, []session.ToolCall{searchCall("c", "q")}, false},
		{"PromptMatchingPattern", ModePrompt, matcher, []session.ToolCall{searchCall("c", "q")}, true},
		{"PromptOneUnmatched", ModePrompt, matcher, []session.ToolCall{searchCall("c", "q"), {Name: "fetch"}}, false},
		{"Auto", ModeAuto, nil, []session.ToolCall{{Name: "fetch"}}, true},
		{"AutoEscalation", ModeAuto, nil, []session.ToolCall{escalationCallFor("c", "help")}, false},
		{"NoCalls", ModeAuto, nil, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a.Mode = tc.mode
			a.approver = tc.approver
			if got := a.AutoApproves(tc.calls); got != tc.want {
				t.Errorf("AutoApproves = %v, want %v", got, tc.want)
			}
		})
	}
}
