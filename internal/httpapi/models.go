package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"labagent/internal/models"
)

type modelRequest struct {
	ModelID string `json:"model_id"`
}

type statusResponse struct {
	ModelID      string  `json:"model_id"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	DownloadedGB float64 `json:"downloaded_gb"`
	TotalGB      float64 `json:"total_gb"`
	Error        *string `json:"error"`
	Loaded       bool    `json:"loaded"`
}

type modelResponse struct {
	ModelID      string  `json:"model_id"`
	SizeGB       float64 `json:"size_gb"`
	DownloadedAt *string `json:"downloaded_at"`
	Loaded       bool    `json:"loaded"`
}

func (s *Server) readModelID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body modelRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	id := strings.TrimSpace(body.ModelID)
	if id == "" {
		writeError(w, http.StatusUnprocessableEntity, "model_id is required")
		return "", false
	}
	return checkModelID(w, id)
}

func pathModelID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusUnprocessableEntity, "model id is required")
		return "", false
	}
	return checkModelID(w, id)
}

func checkModelID(w http.ResponseWriter, id string) (string, bool) {
	if err := models.ValidateModelID(id); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return "", false
	}
	return id, true
}

// handleDownload starts a background download and answers at once; clients
// poll /models/status/{id} for progress.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.readModelID(w, r)
	if !ok {
		return
	}
	tracker := s.state.Tracker
	msg := "Download started"
	switch {
	case tracker.Downloaded(id):
		msg = "Model already downloaded"
	case !tracker.StartDownload(id):
		msg = "Download already in progress"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": msg, "model_id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathModelID(w, r)
	if !ok {
		return
	}
	st := s.state.Tracker.Status(id)
	resp := statusResponse{
		ModelID:      id,
		Status:       st.Status,
		Progress:     st.Progress(),
		DownloadedGB: st.DownloadedGB(),
		TotalGB:      st.TotalGB(),
		Loaded:       st.Loaded,
	}
	if st.Error != "" {
		resp.Error = &st.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.state.Tracker.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]modelResponse, 0, len(list))
	for _, m := range list {
		out = append(out, toModelResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func toModelResponse(m models.ModelInfo) modelResponse {
	resp := modelResponse{ModelID: m.ModelID, SizeGB: m.SizeGB(), Loaded: m.Loaded}
	if m.DownloadedAt > 0 {
		ts := time.Unix(m.DownloadedAt, 0).UTC().Format(time.RFC3339)
		resp.DownloadedAt = &ts
	}
	return resp
}

// handleLoad blocks until the model is resident. Loading can take a while
// for large weights.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	id, ok := s.readModelID(w, r)
	if !ok {
		return
	}
	if err := s.state.Tracker.LoadModel(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Model " + id + " loaded successfully"})
}

func (s *Server) handleLoaded(w http.ResponseWriter, _ *http.Request) {
	id := s.state.Engine.ModelID()
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{"loaded": false, "model_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": true, "model_id": id})
}

// handleDelete removes a downloaded model. The loaded model and one still
// downloading are refused with 409.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathModelID(w, r)
	if !ok {
		return
	}
	if err := s.state.Tracker.Remove(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrModelBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Model " + id + " deleted"})
}
