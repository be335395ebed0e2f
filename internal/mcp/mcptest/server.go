// Package mcptest provides an in-process tool server speaking the streamable
// HTTP handshake, for tests of packages that sit above the mcp client.
package mcptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"labagent/internal/protocol"
)

// Tool is one entry in the fake catalog. Handler returns the text result, or
// an error which is reported as an isError result.
type Tool struct {
	Name        string
	Description string
	// Schema is encoded as is; nil advertises an empty object.
	Schema  any
	Handler func(args map[string]any) (string, error)
}

// Server records every tools/call it receives.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	tools []Tool
	calls []Call
}

// Call is one recorded tools/call.
type Call struct {
	Name string
	Args map[string]any
}

func NewServer(tools ...Tool) *Server {
	s := &Server{tools: tools}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Calls returns the tools/call requests seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// SetTools replaces the catalog.
func (s *Server) SetTools(tools ...Tool) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     any            `json:"id"`
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case protocol.RPCMethodInitialize:
		w.Header().Set(protocol.MCPSessionHeader, "mcptest-session")
		reply(w, req.ID, map[string]any{"protocolVersion": protocol.ProtocolVersion})
		return
	case protocol.RPCMethodNotificationsInitialized:
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if r.Header.Get(protocol.MCPSessionHeader) == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case protocol.RPCMethodToolsList:
		s.mu.Lock()
		list := make([]any, 0, len(s.tools))
		for _, t := range s.tools {
			schema := t.Schema
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			list = append(list, map[string]any{"name": t.Name, "description": t.Description, "inputSchema": schema})
		}
		s.mu.Unlock()
		reply(w, req.ID, map[string]any{"tools": list})
	case protocol.RPCMethodToolsCall:
		name, _ := req.Params["name"].(string)
		args, _ := req.Params["arguments"].(map[string]any)
		s.mu.Lock()
		s.calls = append(s.calls, Call{Name: name, Args: args})
		var handler func(map[string]any) (string, error)
		for _, t := range s.tools {
			if t.Name == name {
				handler = t.Handler
			}
		}
		s.mu.Unlock()

		if handler == nil {
			replyError(w, req.ID, -32602, "unknown tool "+name)
			return
		}
		text, err := handler(args)
		isError := false
		if err != nil {
			text, isError = err.Error(), true
		}
		reply(w, req.ID, map[string]any{
			"content": []any{map[string]any{"type": "text", "text": text}},
			"isError": isError,
		})
	default:
		replyError(w, req.ID, -32601, "method not found")
	}
}

func reply(w http.ResponseWriter, id any, result map[string]any) {
	write(w, map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func replyError(w http.ResponseWriter, id any, code int, msg string) {
	write(w, map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": msg}})
}

func write(w http.ResponseWriter, msg map[string]any) {
	raw, _ := json.Marshal(msg)
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
}
