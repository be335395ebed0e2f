package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"labagent/internal/engine"
	"labagent/internal/mcp"
	"labagent/internal/toolcall"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedEngine replays one token list per pass; the last list repeats.
type scriptedEngine struct {
	mu       sync.Mutex
	passes   [][]string
	passErrs []error
	startErr error
	seen     [][]Turn
	gate     chan struct{}
}

func (e *scriptedEngine) Start(_ context.Context, turns []Turn, _ engine.Options) (*engine.Pass, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	i := len(e.seen)
	e.seen = append(e.seen, append([]Turn(nil), turns...))
	toks := e.passes[len(e.passes)-1]
	if i < len(e.passes) {
		toks = e.passes[i]
	}
	var passErr error
	if i < len(e.passErrs) {
		passErr = e.passErrs[i]
	}
	gate := e.gate
	return engine.NewPass(func(emit func(string)) error {
		for j, tok := range toks {
			if j == 1 && gate != nil {
				<-gate
			}
			emit(tok)
		}
		return passErr
	}), nil
}

func (e *scriptedEngine) starts() [][]Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen
}

type staticTools []mcp.ToolDescriptor

func (s staticTools) Tools(context.Context) []mcp.ToolDescriptor { return s }

type panickyTools struct{}

func (panickyTools) Tools(context.Context) []mcp.ToolDescriptor { panic("catalog exploded") }

type recordingCaller struct {
	mu     sync.Mutex
	calls  []toolcall.Invocation
	result string
	err    error
}

func (c *recordingCaller) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, toolcall.Invocation{Name: name, Args: args})
	return c.result, c.err
}

func newTestOrchestrator(eng engine.Engine, caller ToolCaller) *Orchestrator {
	o := New(eng, staticTools{{Name: "system_health", Description: "Check services"}}, caller)
	o.Logger = log.New(io.Discard, "", 0)
	o.Now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return o
}

func kinds(events []Event) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		parts = append(parts, string(ev.Kind))
	}
	return strings.Join(parts, ",")
}

func userRequest(text string, maxCalls int) Request {
	return Request{
		Turns:        []Turn{{Role: engine.RoleUser, Content: text}},
		MaxToolCalls: maxCalls,
	}
}

func TestRunPlainAnswer(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{{"All ", "systems ", "nominal."}}}
	events := newTestOrchestrator(eng, &recordingCaller{}).Collect(context.Background(), userRequest("hi", 3))

	if kinds(events) != "token,token,token,done" {
		t.Fatalf("unexpected events %s", kinds(events))
	}
	if events[0].Text != "All " || events[2].Text != "nominal." {
		t.Fatalf("tokens changed: %#v", events)
	}
	seen := eng.starts()
	if len(seen) != 1 || seen[0][0].Role != engine.RoleSystem {
		t.Fatalf("expected a system turn first, got %#v", seen)
	}
	if !strings.Contains(seen[0][0].Content, "- system_health(no params): Check services") {
		t.Fatalf("catalog missing from system prompt:\n%s", seen[0][0].Content)
	}
	if !strings.Contains(seen[0][0].Content, "Today: 2024-05-01") {
		t.Fatalf("date missing from system prompt")
	}
}

func TestRunCallsToolAndAnswers(t *testing.T) {
	call := []string{"Let me check. ", "<tool_call>", `{"tool":"system_health","args":{}}`, "</tool_call>"}
	answer := []string{"Database ", "is working."}
	eng := &scriptedEngine{passes: [][]string{call, answer}}
	caller := &recordingCaller{result: `{"db":true}`}

	events := newTestOrchestrator(eng, caller).Collect(context.Background(), userRequest("status?", 3))

	if got := kinds(events); got != "token,status,tool_call,token,token,done" {
		t.Fatalf("unexpected order %s", got)
	}
	if events[0].Text != "Let me check. " {
		t.Fatalf("narration before the call was not forwarded: %q", events[0].Text)
	}
	if events[1].Text != "Querying system_health..." {
		t.Fatalf("unexpected status %q", events[1].Text)
	}
	if events[2].Tool == nil || events[2].Tool.Name != "system_health" {
		t.Fatalf("unexpected tool call %#v", events[2].Tool)
	}
	if len(caller.calls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(caller.calls))
	}

	seen := eng.starts()
	if len(seen) != 2 {
		t.Fatalf("expected two passes, got %d", len(seen))
	}
	second := seen[1]
	if len(second) != 4 {
		t.Fatalf("expected system, user, assistant, tool result turns, got %d", len(second))
	}
	if second[2].Role != engine.RoleAssistant || second[2].Content != strings.Join(call, "") {
		t.Fatalf("raw assistant output not appended: %#v", second[2])
	}
	if second[3].Role != engine.RoleUser || second[3].Content != FormatToolResult("system_health", `{"db":true}`) {
		t.Fatalf("tool result not wrapped: %#v", second[3])
	}
}

func TestRunStopsAtToolCallBound(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{{`<tool_call>{"tool":"list_results","args":{"limit":5}}</tool_call>`}}}
	caller := &recordingCaller{result: "[]"}

	events := newTestOrchestrator(eng, caller).Collect(context.Background(), userRequest("loop", 3))

	announced := 0
	for _, ev := range events {
		if ev.Kind == KindToolCall {
			announced++
		}
	}
	if announced != 3 {
		t.Fatalf("expected exactly 3 announcements, got %d (%s)", announced, kinds(events))
	}
	if last := events[len(events)-1]; last.Kind != KindDone {
		t.Fatalf("expected done last, got %s", last.Kind)
	}
	if len(caller.calls) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(caller.calls))
	}
	if len(eng.starts()) != 4 {
		t.Fatalf("expected a fourth pass whose call is dropped, got %d passes", len(eng.starts()))
	}
}

func TestRunZeroBoundNeverCalls(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{{`<tool_call>{"tool":"x"}</tool_call>`}}}
	caller := &recordingCaller{}
	events := newTestOrchestrator(eng, caller).Collect(context.Background(), userRequest("x", 0))
	if kinds(events) != "done" || len(caller.calls) != 0 {
		t.Fatalf("unexpected events %s calls=%d", kinds(events), len(caller.calls))
	}
}

func TestRunToolFailureIsFoldedBack(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{
		{`<tool_call>{"tool":"x"}</tool_call>`},
		{"Sorry, the tool failed."},
	}}
	caller := &recordingCaller{err: errors.New("connection refused")}

	events := newTestOrchestrator(eng, caller).Collect(context.Background(), userRequest("x", 3))
	if kinds(events) != "status,tool_call,token,done" {
		t.Fatalf("unexpected events %s", kinds(events))
	}
	result := eng.starts()[1][3].Content
	if !strings.Contains(result, "Tool execution failed: connection refused") {
		t.Fatalf("failure not folded into conversation: %q", result)
	}
}

func TestRunMalformedCallFinishesWithNarration(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{{"Sure.", "<tool_call>", "not json", "</tool_call>"}}}
	caller := &recordingCaller{}
	events := newTestOrchestrator(eng, caller).Collect(context.Background(), userRequest("x", 3))
	if kinds(events) != "token,done" || events[0].Text != "Sure." {
		t.Fatalf("unexpected events %#v", events)
	}
	if len(caller.calls) != 0 {
		t.Fatalf("malformed call must not be executed")
	}
}

func TestRunFlushesWithheldTail(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{{"Results: ", "a <", "b"}}}
	events := newTestOrchestrator(eng, &recordingCaller{}).Collect(context.Background(), userRequest("x", 3))
	var text strings.Builder
	for _, ev := range events {
		if ev.Kind == KindToken {
			text.WriteString(ev.Text)
		}
	}
	if text.String() != "Results: a <b" {
		t.Fatalf("text lost or reordered: %q", text.String())
	}
}

func TestRunNoModel(t *testing.T) {
	eng := &scriptedEngine{startErr: engine.ErrNoModel}
	events := newTestOrchestrator(eng, &recordingCaller{}).Collect(context.Background(), userRequest("x", 3))
	if len(events) != 1 || events[0].Kind != KindError || events[0].Text != "No model loaded" {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestRunPassErrorEndsWithError(t *testing.T) {
	eng := &scriptedEngine{
		passes:   [][]string{{"partial "}},
		passErrs: []error{errors.New("cuda out of memory")},
	}
	events := newTestOrchestrator(eng, &recordingCaller{}).Collect(context.Background(), userRequest("x", 3))
	if kinds(events) != "token,error" || events[1].Text != "cuda out of memory" {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestRunRecoversCollaboratorPanic(t *testing.T) {
	eng := &scriptedEngine{passes: [][]string{{"never"}}}
	o := newTestOrchestrator(eng, &recordingCaller{})
	o.tools = panickyTools{}
	events := o.Collect(context.Background(), userRequest("x", 3))
	if len(events) != 1 || events[0].Kind != KindError || !strings.Contains(events[0].Text, "catalog exploded") {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestRunStopsOnDisconnect(t *testing.T) {
	gate := make(chan struct{})
	eng := &scriptedEngine{passes: [][]string{{"first ", "second ", "third"}}, gate: gate}
	ctx, cancel := context.WithCancel(context.Background())

	events := newTestOrchestrator(eng, &recordingCaller{}).Run(ctx, userRequest("x", 3))
	first := <-events
	if first.Kind != KindToken || first.Text != "first " {
		t.Fatalf("unexpected first event %#v", first)
	}
	cancel()

	for ev := range events {
		if ev.Terminal() {
			t.Fatalf("no terminal event may follow a disconnect, got %#v", ev)
		}
	}
	// Let the abandoned pass run to the end.
	close(gate)
}

func TestEventJSON(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Token("hi"), `{"token":"hi"}`},
		{Status("Querying x..."), `{"status":"Querying x..."}`},
		{ToolCall(toolcall.Invocation{Name: "x"}), `{"tool_call":{"tool":"x","args":{}}}`},
		{Done(), `{"done":true}`},
		{Error("No model loaded"), `{"error":"No model loaded"}`},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(tc.ev)
		if err != nil {
			t.Fatalf("marshal %#v: %v", tc.ev, err)
		}
		if string(raw) != tc.want {
			t.Fatalf("got %s want %s", raw, tc.want)
		}
		var back Event
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if back.Kind != tc.ev.Kind || back.Text != tc.ev.Text {
			t.Fatalf("decode mismatch for %s: %#v", raw, back)
		}
	}
}

func TestFormatTools(t *testing.T) {
	tools := []mcp.ToolDescriptor{
		{
			Name:        "search_lab_results",
			Description: "Search results.\nLong detail.",
			Params: []mcp.ParamSpec{
				{Name: "patient_id", Type: "string", Required: true},
				{Name: "limit", Type: "integer"},
			},
		},
		{Name: "system_health"},
	}
	want := "- search_lab_results(patient_id:string*, limit:integer?): Search results.\n- system_health(no params): "
	if got := FormatTools(tools); got != want {
		t.Fatalf("got %q", got)
	}
	if FormatTools(nil) != NoToolsText {
		t.Fatalf("empty catalog should render the fallback text")
	}
}
