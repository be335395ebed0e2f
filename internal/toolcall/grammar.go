// Package toolcall recognizes tool invocations that a small local model
// writes inline in its output, both after the fact (Extract, Strip) and while
// the text is still streaming (Detector).
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Markers a model uses to open and close a tool call.
const (
	OpenTag  = "<tool_call>"
	CloseTag = "</tool_call>"
	Fence    = "```"
	// KeyLiteral is the quoted key whose presence turns a fenced block into
	// a tool call candidate.
	KeyLiteral = `"tool"`
)

// Invocation is one tool call extracted from model output.
type Invocation struct {
	Name string         `json:"tool"`
	Args map[string]any `json:"args"`
}

var (
	taggedPattern   = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)
	fencedPattern   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{[^`]*?['\"]tool['\"][^`]*?\\})\\s*```")
	barePattern     = regexp.MustCompile(`(?s)(?:^|\n)(\{\s*["']tool["']\s*:.*?\})(?:\s*$|\n)`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// grammars are tried in priority order: the format the system prompt asks
// for, then the markdown habit of small models, then a bare object.
var grammars = []*regexp.Regexp{taggedPattern, fencedPattern, barePattern}

var (
	nameKeys = []string{"tool", "name", "function"}
	argKeys  = []string{"args", "arguments", "parameters"}
)

// Extract returns the first tool call found in text. A grammar that matches
// but does not decode falls through to the next one. It never fails loudly:
// anything unusable yields false.
func Extract(text string) (Invocation, bool) {
	for _, re := range grammars {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if inv, ok := parseObject(m[1]); ok {
			return inv, true
		}
	}
	return Invocation{}, false
}

// Strip removes tagged tool call blocks from text and trims the result.
// Fenced and bare forms are left in place.
func Strip(text string) string {
	return strings.TrimSpace(taggedPattern.ReplaceAllString(text, ""))
}

// Render writes inv in the tagged form the system prompt asks models to use.
func Render(inv Invocation) string {
	args := inv.Args
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{"tool": inv.Name, "args": args})
	if err != nil {
		raw = []byte(`{"tool":` + quote(inv.Name) + `,"args":{}}`)
	}
	return OpenTag + "\n" + string(raw) + "\n" + CloseTag
}

func parseObject(raw string) (Invocation, bool) {
	raw = strings.TrimSpace(raw)
	obj, ok := decodeObject(raw)
	if !ok {
		obj, ok = decodeObject(repair(raw))
	}
	if !ok {
		return Invocation{}, false
	}

	var name string
	for _, key := range nameKeys {
		if s, _ := obj[key].(string); strings.TrimSpace(s) != "" {
			name = strings.TrimSpace(s)
			break
		}
	}
	if name == "" {
		return Invocation{}, false
	}

	args := map[string]any{}
	for _, key := range argKeys {
		if m, _ := obj[key].(map[string]any); len(m) > 0 {
			args = m
			break
		}
	}
	return Invocation{Name: name, Args: args}, true
}

// repair fixes the two mistakes small models make most: single-quoted
// strings and trailing commas.
func repair(raw string) string {
	raw = strings.ReplaceAll(raw, "'", `"`)
	return trailingCommaRe.ReplaceAllString(raw, "$1")
}

func decodeObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
