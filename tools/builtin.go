package tools

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/invopop/jsonschema"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/search"
)

const (
	SearchToolName            = "tavily_search"
	RequestAssistanceToolName = "RequestAssistance"
)

type SearchInput struct {
	Query string `json:"query" jsonschema:"required,description=The search query to run"`
}

// SearchTool runs a web search and returns the results as a JSON array.
type SearchTool struct {
	searcher search.Searcher
}

func NewSearchTool(s search.Searcher) *SearchTool {
	return &SearchTool{searcher: s}
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Description() string {
	return "A search engine optimized for comprehensive, accurate, and trusted results. Useful for when you need to answer questions about current events. Input should be a search query."
}

func (t *SearchTool) InputSchema() *jsonschema.Schema {
	return GenerateSchema[SearchInput]()
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", errors.New("missing or invalid 'query' argument")
	}
	results, err := t.searcher.Search(ctx, query)
	if err != nil {
		return "", errors.Collaborator(err, "search for %q failed", query)
	}
	return search.Format(results)
}

// RequestAssistanceInput is the argument of the escalation tool.
type RequestAssistanceInput struct {
	Request string `json:"request" jsonschema:"required,description=What the user needs help with"`
}

// RequestAssistanceTool is declared to the model so it can escalate to a
// human expert. It is never executed; the human's answer becomes its result.
type RequestAssistanceTool struct{}

func (RequestAssistanceTool) Name() string { return RequestAssistanceToolName }

func (RequestAssistanceTool) Description() string {
	return "Escalate the conversation to an expert. Use this if you are unable to assist directly or if the user requires support beyond your permissions. To use this function, relay the user's 'request' so the expert can provide the right guidance."
}

func (RequestAssistanceTool) InputSchema() *jsonschema.Schema {
	return GenerateSchema[RequestAssistanceInput]()
}

func (RequestAssistanceTool) Execute(context.Context, map[string]interface{}) (string, error) {
	return "", errors.CallerState("%s is answered by a human and cannot be executed", RequestAssistanceToolName)
}

// Matcher decides whether a tool call may run without an approval pause.
type Matcher struct {
	patterns []string
}

// NewMatcher validates the glob patterns up front.
func NewMatcher(patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.New("invalid auto_approve pattern %q", p)
		}
	}
	return &Matcher{patterns: patterns}, nil
}

// Approved reports whether name matches any pattern. The escalation tool is
// never auto-approved.
func (m *Matcher) Approved(name string) bool {
	if m == nil || name == RequestAssistanceToolName {
		return false
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
