// Package engine is the boundary to the language model: a pass turns a
// conversation into a lazy stream of text fragments.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoModel is returned by Start when no model is resident.
var ErrNoModel = errors.New("no model loaded")

// Turn is one conversation message handed to the model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options are the sampling knobs for one pass.
type Options struct {
	MaxNewTokens int
	Temperature  float64
}

// Engine starts generation passes.
type Engine interface {
	Start(ctx context.Context, turns []Turn, opts Options) (*Pass, error)
}

// passBuffer bounds how far a producer may run ahead of its reader.
const passBuffer = 64

// Pass is one generation pass. A single producer goroutine pushes fragments
// into a bounded channel and a single consumer reads them. The producer
// always runs to the end, so a reader that stops early must call Drain.
type Pass struct {
	tokens chan string
	done   chan struct{}
	err    error
}

// NewPass runs produce on its own goroutine. Every call to emit blocks until
// the fragment fits in the buffer. A panic in produce ends the pass with an
// error instead of crashing the process.
func NewPass(produce func(emit func(string)) error) *Pass {
	p := &Pass{
		tokens: make(chan string, passBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer close(p.tokens)
		defer func() {
			if r := recover(); r != nil {
				p.err = fmt.Errorf("generation panicked: %v", r)
			}
		}()
		p.err = produce(func(s string) {
			if s != "" {
				p.tokens <- s
			}
		})
	}()
	return p
}

// Tokens is closed when the pass ends.
func (p *Pass) Tokens() <-chan string {
	return p.tokens
}

// Wait blocks until the producer has returned and reports its error. It must
// only be called after Tokens is exhausted or Drain was called.
func (p *Pass) Wait() error {
	<-p.done
	return p.err
}

// Done is closed once the producer has returned.
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Drain discards the rest of the pass in the background.
func (p *Pass) Drain() {
	go func() {
		for range p.tokens {
		}
	}()
}

// Collect reads the whole pass and returns its text.
func Collect(p *Pass) (string, error) {
	var out []byte
	for tok := range p.Tokens() {
		out = append(out, tok...)
	}
	return string(out), p.Wait()
}
