package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MimeLyc/doctrans/internal/config"
	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/store"
	"github.com/MimeLyc/doctrans/pkg/icron"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Body cap leaves headroom for multipart framing around the PDF.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	job, err := s.svc.SubmitJob(r.Context(), header.Filename, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"job": job,
	})
}

type translateRequest struct {
	JobID    string `json:"job_id"`
	Language string `json:"language"`
	Engine   string `json:"engine"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if req.Language == "" {
		writeError(w, http.StatusBadRequest, "language is required")
		return
	}
	if _, _, err := s.svc.GetJob(req.JobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	out, err := s.svc.RequestTranslation(r.Context(), req.JobID, req.Language, req.Engine)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"output": out,
	})
}

type batchTranslateRequest struct {
	JobID     string   `json:"job_id"`
	Languages []string `json:"languages"`
	Engine    string   `json:"engine"`
}

func (s *Server) handleTranslateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchTranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if _, _, err := s.svc.GetJob(req.JobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	result, err := s.svc.TranslateBatch(r.Context(), req.JobID, req.Languages, req.Engine)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ListJobs())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := map[string]any{
		"status": "ok",
	}
	if s.sweepCron != "" {
		if info, err := icron.GetTriggerInfo(s.sweepCron, time.Now()); err == nil {
			payload["sweep"] = map[string]any{
				"expression": info.Expression,
				"last":       info.Last,
				"next":       info.Next,
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// writeServiceError maps pipeline errors onto HTTP statuses: claim
// collisions conflict, other preconditions are the caller's fault and
// everything else is on us.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrOutputInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if docjob.IsErrorType(err, docjob.ErrPrecondition) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
