package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*MCPTool
	order []string
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "askhuman", Version: "v1.0.0"}, nil)
	conn, err := sdkClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Collaborator(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name:  name,
		cmd:   cmd,
		conn:  conn,
		tools: make(map[string]*MCPTool),
	}
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = client.Stop()
			return nil, errors.Collaborator(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			client.add(&MCPTool{
				toolName:    t.Name,
				description: t.Description,
				schema:      convertSchema(t.InputSchema),
				caller:      conn,
			})
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logging.Info().
		Add(logging.Component("mcp")).
		Add(logging.Str("mcp_server", name)).
		Add(logging.Messages(len(client.tools))).
		Msg("initialized MCP client")
	return client, nil
}

func (c *MCPClient) add(t *MCPTool) {
	if _, exists := c.tools[t.toolName]; !exists {
		c.order = append(c.order, t.toolName)
	}
	c.tools[t.toolName] = t
}

// GetTool returns a tool provided by this server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns every tool of this server in discovery order.
func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name])
	}
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		logging.Info().
			Add(logging.Component("mcp")).
			Add(logging.Str("mcp_server", c.Name)).
			Msg("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

type toolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// MCPTool is a tool served by an external MCP server. It satisfies tools.Tool.
type MCPTool struct {
	toolName    string
	description string
	schema      *jsonschema.Schema
	caller      toolCaller
}

// Name returns the server-local tool name. Dotted names are rejected by some
// providers, so the server prefix is not included.
func (t *MCPTool) Name() string {
	return t.toolName
}

func (t *MCPTool) Description() string {
	return t.description
}

func (t *MCPTool) InputSchema() *jsonschema.Schema {
	return t.schema
}

// Execute calls the tool on the MCP server and joins its text content.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.caller.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Collaborator(err, "failed to call tool '%s'", t.toolName)
	}
	var sb strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.Collaborator(errors.New("%s", sb.String()), "tool '%s' reported an error", t.toolName)
	}
	return sb.String(), nil
}

// convertSchema re-encodes a server-provided schema into the schema type the
// model adapters consume. Anything unreadable becomes an open object schema.
func convertSchema(in any) *jsonschema.Schema {
	out := &jsonschema.Schema{Type: "object"}
	if in == nil {
		return out
	}
	data, err := json.Marshal(in)
	if err != nil {
		return out
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return out
	}
	if s.Type == "" {
		s.Type = "object"
	}
	return &s
}
