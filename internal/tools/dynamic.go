package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/chromemcp/bridge/pkg/logger"

	"github.com/chromemcp/bridge/internal/bus"
	"github.com/chromemcp/bridge/internal/envelope"
	"github.com/chromemcp/bridge/internal/pending"
)

// dynamicToolPrefix addresses a synthesised tool as "flow.<slug>".
const dynamicToolPrefix = "flow."

// Universal run-control properties every synthesised flow schema carries in
// addition to its declared variables (spec.md §4.6).
func runControlProperties() map[string]any {
	return map[string]any{
		"tabTarget": map[string]any{
			"type":        "string",
			"enum":        []string{"current", "new"},
			"description": "Which tab to run the flow against",
			"default":     "current",
		},
		"refresh": map[string]any{
			"type":        "boolean",
			"description": "Refresh the target tab before running",
			"default":     false,
		},
		"captureNetwork": map[string]any{
			"type":        "boolean",
			"description": "Capture network activity during the run",
			"default":     false,
		},
		"returnLogs": map[string]any{
			"type":        "boolean",
			"description": "Include console logs captured during the run",
			"default":     false,
		},
		"timeoutMs": map[string]any{
			"type":        "number",
			"description": "Run timeout in milliseconds",
			"minimum":     0,
		},
	}
}

// variableSchema maps one flow variable's declared type onto a JSON-Schema
// property per spec.md §4.6's conversion table.
func variableSchema(v envelope.FlowVariable) map[string]any {
	switch v.Type {
	case "boolean":
		return map[string]any{"type": "boolean"}
	case "number":
		return map[string]any{"type": "number"}
	case "enum":
		return map[string]any{"type": "string", "enum": v.Rules.Enum}
	case "array":
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	default:
		return map[string]any{"type": "string"}
	}
}

// synthesizeFlowTool builds the mcp.Tool descriptor for one published flow.
func synthesizeFlowTool(item envelope.FlowItem) mcp.Tool {
	description := item.Meta.Tool.Description
	if description == "" {
		description = item.Description
	}
	if description == "" {
		description = "Recorded flow"
	}

	properties := runControlProperties()
	var required []string
	for _, v := range item.Variables {
		properties[v.Key] = variableSchema(v)
		if v.Rules.Required {
			required = append(required, v.Key)
		}
	}

	return mcp.Tool{
		Name:        dynamicToolPrefix + item.Slug,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// cacheEntry holds one instance's synthesised dynamic tools, valid as long
// as its epoch matches the catalogue's current epoch for that instance.
type cacheEntry struct {
	epoch int
	tools []mcp.Tool
	items []envelope.FlowItem
}

// Catalogue merges the static tool set with per-instance dynamic tools,
// caching the latter per (instanceId, epoch) and invalidating on
// flow-mutating tool responses (SPEC_FULL.md §9).
type Catalogue struct {
	bus *bus.Bus

	mu     sync.Mutex
	epochs map[string]int
	cache  map[string]cacheEntry
}

// NewCatalogue creates a Catalogue that issues LIST_PUBLISHED_FLOWS
// requests over b.
func NewCatalogue(b *bus.Bus) *Catalogue {
	return &Catalogue{
		bus:    b,
		epochs: make(map[string]int),
		cache:  make(map[string]cacheEntry),
	}
}

// BumpEpoch invalidates any cached dynamic tools for instanceID. Called
// whenever a CALL_TOOL_RESPONSE for a flow-mutating tool is observed.
func (c *Catalogue) BumpEpoch(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[instanceID]++
}

// List returns the merged tool catalogue for instanceID. An empty
// instanceID returns only the static tools, with no bus traffic
// (spec.md §4.6's "listing scope").
func (c *Catalogue) List(ctx context.Context, instanceID string) []mcp.Tool {
	static := StaticTools()
	if instanceID == "" {
		return static
	}
	return append(static, c.dynamicTools(ctx, instanceID)...)
}

// ResolveFlow looks up the flow whose slug matches a "flow.<slug>" tool
// name, returning its numeric id. ok is false if no such flow is published
// (or the instance could not be reached).
func (c *Catalogue) ResolveFlow(ctx context.Context, instanceID, toolName string) (id int, ok bool) {
	slug := strings.TrimPrefix(toolName, dynamicToolPrefix)
	items := c.flowItems(ctx, instanceID)
	for _, item := range items {
		if item.Slug == slug {
			return item.ID, true
		}
	}
	return 0, false
}

func (c *Catalogue) dynamicTools(ctx context.Context, instanceID string) []mcp.Tool {
	c.mu.Lock()
	epoch := c.epochs[instanceID]
	if entry, ok := c.cache[instanceID]; ok && entry.epoch == epoch {
		c.mu.Unlock()
		return entry.tools
	}
	c.mu.Unlock()

	items := c.fetchFlows(ctx, instanceID)

	tools := make([]mcp.Tool, 0, len(items))
	for _, item := range items {
		tools = append(tools, synthesizeFlowTool(item))
	}

	c.mu.Lock()
	// The epoch may have been bumped while we were fetching. Caching under
	// the epoch observed at fetch start, not the current one, means a
	// concurrent bump is never silently lost — the next List() call will
	// see the bumped epoch miss this entry and re-fetch.
	c.cache[instanceID] = cacheEntry{epoch: epoch, tools: tools, items: items}
	c.mu.Unlock()

	return tools
}

func (c *Catalogue) flowItems(ctx context.Context, instanceID string) []envelope.FlowItem {
	c.mu.Lock()
	epoch := c.epochs[instanceID]
	if entry, ok := c.cache[instanceID]; ok && entry.epoch == epoch {
		c.mu.Unlock()
		return entry.items
	}
	c.mu.Unlock()

	// dynamicTools populates both tools and items under the same fetch.
	c.dynamicTools(ctx, instanceID)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[instanceID].items
}

func (c *Catalogue) fetchFlows(ctx context.Context, instanceID string) []envelope.FlowItem {
	result, err := c.bus.SendRequest(ctx, instanceID, envelope.TypeListPublishedFlows,
		map[string]any{}, pending.DefaultListFlowsTimeout)
	if err != nil {
		// "Failure to list flows ... yields an empty dynamic set — static
		// tools still list" (spec.md §4.6).
		logger.Warnf("failed to list published flows for instance %s: %v", instanceID, err)
		return nil
	}

	var payload envelope.ListPublishedFlowsResponsePayload
	if err := json.Unmarshal(result, &payload); err != nil {
		logger.Warnf("malformed LIST_PUBLISHED_FLOWS_RESPONSE from instance %s: %v", instanceID, err)
		return nil
	}
	return payload.Items
}
