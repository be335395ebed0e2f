package httpapi

import (
	"net/http"

	"labagent/internal/mcp"
)

type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Params      []mcp.ParamSpec `json:"params"`
}

func toolViews(tools []mcp.ToolDescriptor) []toolView {
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		params := t.Params
		if params == nil {
			params = []mcp.ParamSpec{}
		}
		out = append(out, toolView{Name: t.Name, Description: t.Description, Params: params})
	}
	return out
}

// handleTools returns the catalog the agent sees, fetching it on first use.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.state.Catalog.Tools(r.Context())
	_, cached := s.state.Catalog.Cached()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":    toolViews(tools),
		"cached":   cached,
		"endpoint": s.state.MCP.Endpoint(),
	})
}

func (s *Server) handleRefreshTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.state.Catalog.Refresh(r.Context())
	if err != nil {
		detail := mcp.ActionableMessageFromError(err)
		if detail == "" {
			detail = err.Error()
		}
		writeError(w, http.StatusBadGateway, detail)
		return
	}
	_, cached := s.state.Catalog.Cached()
	writeJSON(w, http.StatusOK, map[string]any{"tools": toolViews(tools), "cached": cached})
}
