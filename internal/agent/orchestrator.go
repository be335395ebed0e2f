// Package agent drives the generate, call tool, generate again loop and turns
// it into an ordered stream of events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"labagent/internal/engine"
	"labagent/internal/mcp"
	"labagent/internal/toolcall"
)

const (
	DefaultMaxNewTokens = 512
	DefaultTemperature  = 0.7
	DefaultMaxToolCalls = 3

	// NoModelText is the error event sent when nothing is loaded.
	NoModelText = "No model loaded"
)

// ToolSource supplies the catalog rendered into the system prompt.
type ToolSource interface {
	Tools(ctx context.Context) []mcp.ToolDescriptor
}

// ToolCaller executes one tool and returns its result as text.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Request is one agentic turn.
type Request struct {
	Turns        []Turn
	MaxNewTokens int
	Temperature  float64
	MaxToolCalls int
}

// Orchestrator runs agentic turns. It holds no per-turn state and may serve
// concurrent runs.
type Orchestrator struct {
	engine engine.Engine
	tools  ToolSource
	caller ToolCaller

	// Version is shown to the model in the system prompt.
	Version string
	// Now stamps the system prompt; time.Now when nil.
	Now func() time.Time

	Logger  *log.Logger
	Verbose bool
}

func New(eng engine.Engine, tools ToolSource, caller ToolCaller) *Orchestrator {
	return &Orchestrator{engine: eng, tools: tools, caller: caller}
}

// Run starts the loop and returns its events. The channel is unbuffered, so
// the loop only runs as fast as the caller reads, and it is closed right after
// the terminal done or error event. Cancelling ctx stops emission without a
// terminal event; a pass in flight is drained in the background.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		r := &run{o: o, ctx: ctx, out: out, id: uuid.NewString()}
		r.execute(req)
	}()
	return out
}

// Collect runs req to the end and returns every event.
func (o *Orchestrator) Collect(ctx context.Context, req Request) []Event {
	var events []Event
	for ev := range o.Run(ctx, req) {
		events = append(events, ev)
	}
	return events
}

type run struct {
	o   *Orchestrator
	ctx context.Context
	out chan<- Event
	id  string
}

// emit delivers ev unless the consumer has gone away.
func (r *run) emit(ev Event) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) execute(req Request) {
	defer func() {
		if rec := recover(); rec != nil {
			r.o.logf("[agent %s] recovered: %v", r.id, rec)
			r.emit(Error(fmt.Sprint(rec)))
		}
	}()

	opts := engine.Options{MaxNewTokens: req.MaxNewTokens, Temperature: req.Temperature}
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = DefaultMaxNewTokens
	}
	maxCalls := req.MaxToolCalls
	if maxCalls < 0 {
		maxCalls = 0
	}

	var tools []mcp.ToolDescriptor
	if r.o.tools != nil {
		tools = r.o.tools.Tools(r.ctx)
	}
	now := time.Now
	if r.o.Now != nil {
		now = r.o.Now
	}
	turns := make([]Turn, 0, len(req.Turns)+1+2*maxCalls)
	turns = append(turns, Turn{Role: engine.RoleSystem, Content: SystemPrompt(tools, now(), r.o.Version)})
	turns = append(turns, req.Turns...)

	calls := 0
	for {
		// The pass is not tied to the consumer: it runs to the end even
		// after a disconnect.
		pass, err := r.o.engine.Start(context.WithoutCancel(r.ctx), turns, opts)
		if err != nil {
			r.emit(Error(errorText(err)))
			return
		}

		det := toolcall.NewDetector()
		detected, alive := r.consume(pass, det)
		if !alive {
			return
		}
		output := det.Text()

		if !detected {
			if err := pass.Wait(); err != nil {
				r.emit(Error(errorText(err)))
				return
			}
			if rest := det.Flush(); rest != "" && !r.emit(Token(rest)) {
				return
			}
			r.emit(Done())
			return
		}

		inv, ok := toolcall.Extract(output)
		if !ok {
			r.o.logf("[agent %s] unparseable tool call, finishing with narration", r.id)
			if rest := det.Flush(); rest != "" && !r.emit(Token(rest)) {
				return
			}
			r.emit(Done())
			return
		}

		calls++
		if calls > maxCalls {
			if r.o.Verbose {
				r.o.logf("[agent %s] tool call bound %d reached, dropping %s", r.id, maxCalls, inv.Name)
			}
			r.emit(Done())
			return
		}
		if !r.emit(Status(fmt.Sprintf("Querying %s...", inv.Name))) {
			return
		}
		if !r.emit(ToolCall(inv)) {
			return
		}

		result := r.callTool(inv)
		turns = append(turns,
			Turn{Role: engine.RoleAssistant, Content: output},
			Turn{Role: engine.RoleUser, Content: FormatToolResult(inv.Name, result)},
		)
	}
}

// consume feeds the pass through det and forwards safe text. It returns
// whether a call was detected and whether the consumer is still listening.
// On detection or disconnect the rest of the pass is drained.
func (r *run) consume(pass *engine.Pass, det *toolcall.Detector) (detected, alive bool) {
	tokens := pass.Tokens()
	for {
		select {
		case <-r.ctx.Done():
			pass.Drain()
			return false, false
		case tok, ok := <-tokens:
			if !ok {
				return false, true
			}
			dec := det.Feed(tok)
			if dec.Forward != "" && !r.emit(Token(dec.Forward)) {
				pass.Drain()
				return false, false
			}
			if dec.Detected {
				pass.Drain()
				return true, true
			}
		}
	}
}

func (r *run) callTool(inv toolcall.Invocation) string {
	if r.o.caller == nil {
		return "Tool execution failed: no tool server configured"
	}
	if r.o.Verbose {
		r.o.logf("[agent %s] -> %s %v", r.id, inv.Name, inv.Args)
	}
	result, err := r.o.caller.CallTool(r.ctx, inv.Name, inv.Args)
	if err != nil {
		return fmt.Sprintf("Tool execution failed: %v", err)
	}
	return result
}

func errorText(err error) string {
	if errors.Is(err, engine.ErrNoModel) {
		return NoModelText
	}
	return err.Error()
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
