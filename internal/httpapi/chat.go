package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"labagent/internal/agent"
	"labagent/internal/engine"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages     []chatMessage `json:"messages"`
	MaxNewTokens int           `json:"max_new_tokens"`
	Temperature  *float64      `json:"temperature"`
}

func (s *Server) parseChat(w http.ResponseWriter, r *http.Request) (agent.Request, bool) {
	var body chatRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return agent.Request{}, false
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "messages must not be empty")
		return agent.Request{}, false
	}
	turns := make([]agent.Turn, 0, len(body.Messages))
	for i, m := range body.Messages {
		switch m.Role {
		case engine.RoleSystem, engine.RoleUser, engine.RoleAssistant:
		default:
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("messages[%d].role must be user, assistant or system", i))
			return agent.Request{}, false
		}
		turns = append(turns, agent.Turn{Role: m.Role, Content: m.Content})
	}
	if body.MaxNewTokens < 0 {
		writeError(w, http.StatusUnprocessableEntity, "max_new_tokens must be positive")
		return agent.Request{}, false
	}
	return s.state.Request(turns, body.MaxNewTokens, body.Temperature), true
}

func (s *Server) requireModel(w http.ResponseWriter) bool {
	if s.state.Engine.ModelID() == "" {
		writeError(w, http.StatusServiceUnavailable, "No model loaded.")
		return false
	}
	return true
}

// handleChatAgent streams the agentic loop: tokens, tool status, tool calls
// and a final done or error.
func (s *Server) handleChatAgent(w http.ResponseWriter, r *http.Request) {
	if !s.requireModel(w) {
		return
	}
	req, ok := s.parseChat(w, r)
	if !ok {
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for ev := range s.state.Agent.Run(r.Context(), req) {
		if err := sse.send(ev); err != nil {
			// The client is gone; the request context is cancelled with it
			// and Run stops on its own.
			return
		}
	}
}

// handleChatStream streams one pass with no tool use.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if !s.requireModel(w) {
		return
	}
	req, ok := s.parseChat(w, r)
	if !ok {
		return
	}
	pass, err := s.state.Engine.Start(r.Context(), req.Turns, engine.Options{
		MaxNewTokens: req.MaxNewTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		pass.Drain()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for tok := range pass.Tokens() {
		if err := sse.send(agent.Token(tok)); err != nil {
			pass.Drain()
			return
		}
	}
	if err := pass.Wait(); err != nil {
		_ = sse.send(agent.Error(err.Error()))
		return
	}
	_ = sse.send(agent.Done())
}

// handleChat returns the whole reply at once.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.requireModel(w) {
		return
	}
	req, ok := s.parseChat(w, r)
	if !ok {
		return
	}
	pass, err := s.state.Engine.Start(r.Context(), req.Turns, engine.Options{
		MaxNewTokens: req.MaxNewTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	content, err := engine.Collect(pass)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": engine.RoleAssistant, "content": content})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrNoModel) {
		writeError(w, http.StatusServiceUnavailable, "No model loaded.")
		return
	}
	s.logf("[http] engine start failed: %v", err)
	writeError(w, http.StatusBadGateway, err.Error())
}
