// ABOUTME: Registers the hub's tools on an MCP server with their published input schemas.
// ABOUTME: Decodes tool arguments and wraps handler text as MCP text content.

package hub

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// UseArguments is the argument object of the use tool.
type UseArguments struct {
	Extension  string         `json:"extension"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ListExtensionsTool describes list_extensions. It takes no parameters.
func ListExtensionsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: ToolListExtensions,
		Description: "List every registered extension and the actions each one supports. " +
			"Call this first to discover what you can do.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// UseTool describes use.
func UseTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolUse,
		Description: "Execute any action on any registered extension.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"extension": map[string]any{
					"type":        "string",
					"description": "The extension name (as shown in list_extensions).",
				},
				"action": map[string]any{
					"type":        "string",
					"description": "The action name to run.",
				},
				"parameters": map[string]any{
					"type":        "object",
					"description": "Parameters for the action. Use {} if none.",
				},
			},
			"required": []string{"extension", "action", "parameters"},
		},
	}
}

// Register adds list_extensions and use to server.
func (t *Tools) Register(server *mcp.Server) {
	server.AddTool(ListExtensionsTool(), func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(t.ListExtensions(ctx)), nil
	})

	server.AddTool(UseTool(), func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args UseArguments
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return textResult("Invalid arguments for use: " + err.Error()), nil
			}
		}
		return textResult(t.Use(ctx, args.Extension, args.Action, args.Parameters)), nil
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
