package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/sinp/pkg/capability"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// ToolAdapter runs an MCP tool as a capability handler.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
}

// NewToolAdapter builds a handler backed by an MCP tool definition and caller.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	return &ToolAdapter{
		tool:   tool,
		caller: caller,
	}, nil
}

// Name returns the MCP tool name.
func (t *ToolAdapter) Name() string {
	return t.tool.Name
}

// Execute implements capability.Handler. Invocation inputs become tool
// arguments converted to the types the tool schema declares. A tool with a
// single string argument receives the intent when no input names it.
func (t *ToolAdapter) Execute(ctx context.Context, inv capability.Invocation) (any, error) {
	args, err := toolArgs(t.tool, inv)
	if err != nil {
		return nil, err
	}
	if err := validateRequiredArgs(t.tool, args); err != nil {
		return nil, err
	}
	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return toolResultToOutput(result)
}

// Descriptor converts an MCP tool into a capability descriptor with the
// given id. Inputs follow the schema properties in name order.
func Descriptor(id string, tool mcp.Tool) capability.Capability {
	desc := strings.TrimSpace(tool.Description)
	if desc == "" {
		desc = "MCP tool " + tool.Name
	}
	return capability.Capability{
		ID:          id,
		Description: desc,
		Inputs:      toolInputs(tool),
		Keywords:    nameKeywords(tool.Name),
		Tags:        []string{"mcp"},
	}
}

func toolInputs(tool mcp.Tool) []capability.Input {
	props := tool.InputSchema.Properties
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	inputs := make([]capability.Input, 0, len(names))
	for _, name := range names {
		inputs = append(inputs, capability.Input{
			Name:        name,
			Description: propertyString(props[name], "description"),
			Required:    requiresField(tool, name),
		})
	}
	return inputs
}

// nameKeywords splits a tool name such as "get_weather" into keyword groups.
func nameKeywords(name string) []string {
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	out := parts[:0]
	for _, p := range parts {
		if len(p) > 2 {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toolArgs(tool mcp.Tool, inv capability.Invocation) (map[string]interface{}, error) {
	props := tool.InputSchema.Properties
	args := make(map[string]interface{}, len(inv.Inputs))
	for name, raw := range inv.Inputs {
		if _, known := props[name]; !known && len(props) > 0 {
			continue
		}
		v, err := convertArg(propertyString(props[name], "type"), raw)
		if err != nil {
			return nil, fmt.Errorf("mcp tool args: field %q: %w", name, err)
		}
		args[name] = v
	}
	if len(args) == 0 {
		if name, ok := soleStringProperty(tool); ok {
			args[name] = inv.Intent
		}
	}
	return args, nil
}

func convertArg(kind, raw string) (interface{}, error) {
	switch kind {
	case "integer":
		return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case "number":
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case "boolean":
		return strconv.ParseBool(strings.TrimSpace(raw))
	case "object", "array":
		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return decoded, nil
	default:
		return raw, nil
	}
}

func soleStringProperty(tool mcp.Tool) (string, bool) {
	props := tool.InputSchema.Properties
	if len(props) != 1 {
		return "", false
	}
	for name, p := range props {
		kind := propertyString(p, "type")
		return name, kind == "" || kind == "string"
	}
	return "", false
}

func propertyString(prop any, key string) string {
	m, ok := prop.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func validateRequiredArgs(tool mcp.Tool, args map[string]interface{}) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("mcp tool args: missing required field %q", key)
		}
	}
	return nil
}

func requiresField(tool mcp.Tool, name string) bool {
	for _, key := range tool.InputSchema.Required {
		if key == name {
			return true
		}
	}
	return false
}

// toolResultToOutput maps a tool result onto an EXECUTE result object.
func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}

	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}

	if result.StructuredContent != nil {
		if m, ok := result.StructuredContent.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"result": result.StructuredContent}, nil
	}

	return map[string]any{"text": extractTextContent(result.Content)}, nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ capability.Handler = (*ToolAdapter)(nil)
