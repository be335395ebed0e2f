package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"labagent/internal/protocol"
)

// ToolDescriptor describes one tool offered by the server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Params      []ParamSpec    `json:"params"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type toolsListResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// ListTools fetches the tool catalog on a fresh session.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	ctx, cancel := withTimeout(ctx, c.ListTimeout)
	defer cancel()

	raw, err := c.callRaw(ctx, protocol.RPCMethodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &result)
	}
	tools := make([]ToolDescriptor, 0, len(result.Tools))
	for _, item := range result.Tools {
		var m map[string]any
		if json.Unmarshal(item, &m) != nil {
			continue
		}
		name := strings.TrimSpace(asString(m["name"]))
		if name == "" {
			continue
		}
		var ordered struct {
			InputSchema struct {
				Properties json.RawMessage `json:"properties"`
			} `json:"inputSchema"`
		}
		_ = json.Unmarshal(item, &ordered)
		schema := asMap(m["inputSchema"])
		tools = append(tools, ToolDescriptor{
			Name:        name,
			Description: asString(m["description"]),
			Params:      paramsFromSchema(schema, objectKeys(ordered.InputSchema.Properties)),
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool runs a tool and returns its output as plain text. Tool failures
// are conversational data: timeouts, transport failures and tool-reported
// errors all come back as text with a nil error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	callCtx, cancel := withTimeout(ctx, c.CallTimeout)
	defer cancel()

	result, err := c.Call(callCtx, protocol.RPCMethodToolsCall, map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return fmt.Sprintf("Tool '%s' timed out after %d seconds.", name, int(c.CallTimeout.Seconds())), nil
		}
		return fmt.Sprintf("Tool '%s' failed: %v", name, err), nil
	}
	return renderToolResult(result), nil
}

func renderToolResult(result map[string]any) string {
	var text string
	if blocks, _ := result["content"].([]any); len(blocks) > 0 {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			m := asMap(b)
			if asString(m["type"]) != "text" {
				continue
			}
			if t := asString(m["text"]); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, "\n")
	} else {
		raw, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			text = string(raw)
		}
	}

	if asBool(result["isError"]) {
		return "Tool error: " + text
	}
	if text == "" {
		return "(no data returned)"
	}
	return text
}

// paramsFromSchema lists the schema's properties in the order the server
// wrote them. Properties missing from order are appended by name.
func paramsFromSchema(schema map[string]any, order []string) []ParamSpec {
	props := asMap(schema["properties"])
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, r := range list {
			if s := asString(r); s != "" {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	seen := map[string]bool{}
	for _, name := range order {
		if _, ok := props[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range props {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	out := make([]ParamSpec, 0, len(names))
	for _, name := range names {
		typ := asString(asMap(props[name])["type"])
		if typ == "" {
			typ = "string"
		}
		out = append(out, ParamSpec{Name: name, Type: typ, Required: required[name]})
	}
	return out
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
