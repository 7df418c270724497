package tools

import (
	"context"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/m4xw311/askhuman/config"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/tools/mcp"
)

// Tool defines the interface for any capability declared to the model.
type Tool interface {
	Name() string
	Description() string
	InputSchema() *jsonschema.Schema
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// GenerateSchema derives the JSON schema of a tool input struct.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
}

// NewToolRegistry registers the built-in tools and connects to the configured
// MCP servers. A server that fails to start is logged and skipped.
func NewToolRegistry(ctx context.Context, cfg *config.Config, extra ...Tool) *ToolRegistry {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
	}
	for _, t := range extra {
		r.Register(t)
	}

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(ctx, server.Name, server.Command, server.Args)
		if err != nil {
			logging.Warn().
				Add(logging.Component("tools")).
				Add(logging.Str("mcp_server", server.Name)).
				Add(logging.ErrorField(err)).
				Msg("skipping MCP server")
			continue
		}
		r.mcpClients[server.Name] = client
	}

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// GetActiveTools returns the tool instances for a given toolset. Entries of the
// form <server>.<tool> name an MCP tool; <server>.* selects all of a server's
// tools.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if server, name, ok := strings.Cut(toolName, "."); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("MCP server '%s' from toolset '%s' is not running", server, ts.Name)
			}
			if name == "*" {
				for _, t := range client.Tools() {
					r.Register(t)
					activeTools = append(activeTools, t)
				}
				continue
			}
			t, found := client.GetTool(name)
			if !found {
				return nil, errors.New("tool '%s' is not provided by MCP server '%s'", name, server)
			}
			r.Register(t)
			activeTools = append(activeTools, t)
			continue
		}

		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

// Close stops all MCP server subprocesses.
func (r *ToolRegistry) Close() {
	for _, c := range r.mcpClients {
		_ = c.Stop()
	}
}
