package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleJobEvents streams the job's status as server-sent events until the
// client disconnects or the job and all its translations settle.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, _, err := s.svc.GetJob(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func() (settled, ok bool) {
		job, outputs, err := s.svc.GetJob(jobID)
		if err != nil {
			return true, false
		}
		payload, err := json.Marshal(jobDetailResponse{
			Job:     job,
			Outputs: outputs,
			Summary: s.svc.SummarizeOutputs(jobID),
		})
		if err != nil {
			return true, false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return true, false
		}
		flusher.Flush()

		settled = job.Status.Terminal()
		for _, out := range outputs {
			if !out.Status.Terminal() {
				settled = false
			}
		}
		return settled, true
	}

	if settled, ok := send(); !ok || settled {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if settled, ok := send(); !ok || settled {
				return
			}
		}
	}
}
