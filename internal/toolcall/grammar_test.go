package toolcall

import (
	"reflect"
	"testing"
)

func TestExtractAcceptsAllThreeForms(t *testing.T) {
	want := Invocation{Name: "x", Args: map[string]any{"a": float64(1)}}
	cases := map[string]string{
		"tagged": `<tool_call>{"tool":"x","args":{"a":1}}</tool_call>`,
		"fenced": "Let me check.\n```json\n{\"tool\":\"x\",\"args\":{\"a\":1}}\n```",
		"bare":   "Checking now\n{\"tool\":\"x\",\"args\":{\"a\":1}}\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := Extract(text)
			if !ok {
				t.Fatalf("expected a call from %q", text)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("unexpected invocation: %#v", got)
			}
		})
	}
}

func TestExtractFencedWithoutLanguage(t *testing.T) {
	got, ok := Extract("```\n{\"tool\": \"list_results\"}\n```")
	if !ok || got.Name != "list_results" {
		t.Fatalf("unexpected result: %#v ok=%v", got, ok)
	}
	if got.Args == nil || len(got.Args) != 0 {
		t.Fatalf("expected empty args, got %#v", got.Args)
	}
}

func TestExtractRepairsQuotesAndTrailingCommas(t *testing.T) {
	text := "<tool_call>\n{'tool': 'search_lab_results', 'args': {'limit': 5,},}\n</tool_call>"
	got, ok := Extract(text)
	if !ok {
		t.Fatalf("expected repaired call to parse")
	}
	if got.Name != "search_lab_results" {
		t.Fatalf("unexpected name %q", got.Name)
	}
	if got.Args["limit"] != float64(5) {
		t.Fatalf("unexpected args %#v", got.Args)
	}
}

func TestExtractFieldAliases(t *testing.T) {
	cases := []struct {
		text string
		name string
		args map[string]any
	}{
		{`<tool_call>{"name":"a","arguments":{"k":"v"}}</tool_call>`, "a", map[string]any{"k": "v"}},
		{`<tool_call>{"function":"b","parameters":{"n":2}}</tool_call>`, "b", map[string]any{"n": float64(2)}},
		{`<tool_call>{"tool":"","name":"c"}</tool_call>`, "c", map[string]any{}},
		{`<tool_call>{"tool":"d","args":{},"arguments":{"x":true}}</tool_call>`, "d", map[string]any{"x": true}},
	}
	for _, tc := range cases {
		got, ok := Extract(tc.text)
		if !ok {
			t.Fatalf("expected call from %q", tc.text)
		}
		if got.Name != tc.name || !reflect.DeepEqual(got.Args, tc.args) {
			t.Fatalf("for %q got %#v", tc.text, got)
		}
	}
}

func TestExtractRejectsMissingName(t *testing.T) {
	if got, ok := Extract(`<tool_call>{"args":{"a":1}}</tool_call>`); ok {
		t.Fatalf("expected no call, got %#v", got)
	}
	if got, ok := Extract(`<tool_call>{"tool": 42}</tool_call>`); ok {
		t.Fatalf("expected no call for non-string name, got %#v", got)
	}
}

func TestExtractRejectsUnparseable(t *testing.T) {
	for _, text := range []string{
		"",
		"plain prose about tools",
		`<tool_call>{"tool": "x", "args": {</tool_call>`,
		"<tool_call>not json</tool_call>",
	} {
		if got, ok := Extract(text); ok {
			t.Fatalf("expected no call from %q, got %#v", text, got)
		}
	}
}

func TestExtractFallsThroughWhenTaggedBlockIsBroken(t *testing.T) {
	text := "<tool_call>{oops}</tool_call>\n```json\n{\"tool\":\"y\"}\n```"
	got, ok := Extract(text)
	if !ok || got.Name != "y" {
		t.Fatalf("expected fenced fallback, got %#v ok=%v", got, ok)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	inputs := []Invocation{
		{Name: "get_patient", Args: map[string]any{"patient_id": "P-001", "limit": float64(20)}},
		{Name: "system_health", Args: map[string]any{}},
		{Name: "search", Args: map[string]any{"query": "O'Brien", "nested": map[string]any{"ok": true}}},
	}
	for _, in := range inputs {
		got, ok := Extract(Render(in))
		if !ok {
			t.Fatalf("rendered call did not parse: %s", Render(in))
		}
		if !reflect.DeepEqual(got, in) {
			t.Fatalf("round trip mismatch: %#v != %#v", got, in)
		}
	}
}

func TestStripOnlyRemovesTaggedBlocks(t *testing.T) {
	text := "Looking it up. <tool_call>{\"tool\":\"x\"}</tool_call> done"
	if got := Strip(text); got != "Looking it up.  done" {
		t.Fatalf("unexpected strip result %q", got)
	}
	fenced := "```json\n{\"tool\":\"x\"}\n```"
	if got := Strip(fenced); got != fenced {
		t.Fatalf("fenced form must be left untouched, got %q", got)
	}
	bare := `{"tool":"x"}`
	if got := Strip("  " + bare + "\n"); got != bare {
		t.Fatalf("bare form must be left untouched, got %q", got)
	}
}
