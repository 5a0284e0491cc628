package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/doctrans/internal/artifact"
	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/service"
)

const contentTypeMarkdown = "text/markdown; charset=utf-8"

type jobDetailResponse struct {
	Job     docjob.Job                 `json:"job"`
	Outputs []docjob.TranslationOutput `json:"outputs"`
	Summary service.OutputSummary      `json:"summary"`
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID, action, arg, ok := parseJobRoute(r.URL.Path)
	if !ok || jobID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handleJobDetail(w, r, jobID)
	case "master":
		s.handleJobMaster(w, r, jobID)
	case "output":
		s.handleJobOutput(w, r, jobID, arg)
	case "figures":
		s.handleJobFigures(w, r, jobID)
	case "events":
		s.handleJobEvents(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// parseJobRoute splits /api/jobs/{id}[/{action}[/{arg}]].
func parseJobRoute(path string) (jobID, action, arg string, ok bool) {
	rest := strings.TrimPrefix(path, "/api/jobs/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", "", "", false
	}

	parts := strings.SplitN(rest, "/", 3)
	if decoded, err := url.PathUnescape(parts[0]); err == nil {
		parts[0] = decoded
	}
	switch len(parts) {
	case 1:
		return parts[0], "", "", true
	case 2:
		return parts[0], parts[1], "", true
	default:
		return parts[0], parts[1], parts[2], true
	}
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, jobID string) {
	job, outputs, err := s.svc.GetJob(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobDetailResponse{
		Job:     job,
		Outputs: outputs,
		Summary: s.svc.SummarizeOutputs(jobID),
	})
}

func (s *Server) handleJobMaster(w http.ResponseWriter, r *http.Request, jobID string) {
	job, _, err := s.svc.GetJob(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.MasterPath == "" {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("extraction is %s, no master document yet", job.Status))
		return
	}

	data, err := s.svc.MasterDocument(r.Context(), jobID)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeMarkdown)
	_, _ = w.Write(data)
}

func (s *Server) handleJobOutput(w http.ResponseWriter, r *http.Request, jobID, language string) {
	if language == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	out, err := s.svc.GetOutput(jobID, language)
	if err != nil {
		writeError(w, http.StatusNotFound, "translation not found")
		return
	}
	if out.Status != docjob.StatusCompleted {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("translation is %s", out.Status))
		return
	}

	data, err := s.svc.TranslatedDocument(r.Context(), jobID, language)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeMarkdown)
	_, _ = w.Write(data)
}

func (s *Server) handleJobFigures(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, _, err := s.svc.GetJob(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.FiguresByJob(jobID))
}

// handleFigureFile serves /api/figures/{jobID}/{name} as the stored crop.
func (s *Server) handleFigureFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/figures/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	jobID, name := parts[0], parts[1]
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}

	data, err := s.svc.FigureImage(r.Context(), jobID, name)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	contentType := artifact.ContentTypePNG
	if !strings.HasSuffix(name, ".png") {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func writeArtifactError(w http.ResponseWriter, err error) {
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeServiceError(w, err)
}
