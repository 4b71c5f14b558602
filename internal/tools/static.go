// Package tools builds the MCP tool catalogue: a fixed set of static
// descriptors plus, per bound instance, a dynamic set of `flow.<slug>`
// descriptors synthesised from that instance's published flows
// (spec.md §4.6).
package tools

import "github.com/mark3labs/mcp-go/mcp"

// Static tool names (spec.md §4.6, SPEC_FULL.md §4.6).
const (
	ToolReadConsoleLogs       = "read_console_logs"
	ToolListTabs              = "list_tabs"
	ToolTakeScreenshot        = "take_screenshot"
	ToolRecordReplayFlowRun   = "record_replay_flow_run"
	ToolRecordReplayFlowPub   = "record_replay_flow_publish"
)

// StaticTools returns the process-wide constant tool descriptors, returned
// verbatim from every tools/list regardless of whether a session has a
// bound instance.
func StaticTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        ToolReadConsoleLogs,
			Description: "Read recent browser console log entries from the active tab",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit": map[string]any{
						"type":        "number",
						"description": "Maximum number of log entries to return",
					},
				},
			},
		},
		{
			Name:        ToolListTabs,
			Description: "List the browser tabs currently open in the instance",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{},
			},
		},
		{
			Name:        ToolTakeScreenshot,
			Description: "Capture a screenshot of the active tab",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"fullPage": map[string]any{
						"type":        "boolean",
						"description": "Capture the full scrollable page instead of the viewport",
					},
				},
			},
		},
		{
			Name:        ToolRecordReplayFlowRun,
			Description: "Run a previously recorded replay flow by id",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"flowId": map[string]any{
						"type":        "number",
						"description": "Numeric id of the flow to run",
					},
					"args": map[string]any{
						"type":        "object",
						"description": "Variable values the flow was recorded with",
					},
				},
				Required: []string{"flowId"},
			},
		},
		{
			Name:        ToolRecordReplayFlowPub,
			Description: "Publish a recorded replay flow, making it available as a dynamic tool",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"flowId": map[string]any{
						"type":        "number",
						"description": "Numeric id of the flow to publish",
					},
				},
				Required: []string{"flowId"},
			},
		},
	}
}

// IsFlowMutating reports whether a tool call response for name should
// invalidate a cached dynamic catalogue (SPEC_FULL.md §9). record_replay_flow_run
// does not mutate the published set; only record_replay_flow_publish does.
func IsFlowMutating(name string) bool {
	return name == ToolRecordReplayFlowPub
}
