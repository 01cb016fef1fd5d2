package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

// multipartOverhead is the slack allowed above the file size limit for
// multipart boundaries and headers.
const multipartOverhead = 1 << 20

// jobResponse is an import job plus its progress percentage.
type jobResponse struct {
	*core.ImportJob
	Percent int `json:"percent"`
}

func newJobResponse(job *core.ImportJob) jobResponse {
	return jobResponse{ImportJob: job, Percent: job.Percent()}
}

// handleSubmitImport streams the multipart "file" part into the service.
// The body is never buffered in memory.
func (s *Server) handleSubmitImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, r, badRequest("expected multipart/form-data with a file field: %v", err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.respondError(w, r, core.ErrNoFile)
			return
		}
		if err != nil {
			s.respondError(w, r, uploadError(err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		job, err := s.service.SubmitImport(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			s.respondError(w, r, uploadError(err))
			return
		}

		writeJSONStatus(w, http.StatusAccepted, newJobResponse(job))
		return
	}
}

// uploadError reports an exhausted request body as a file-size failure.
func uploadError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("%w: request body exceeds %d bytes", core.ErrFileTooLarge, maxBytes.Limit)
	}
	return err
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "jobID")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, r, badRequest("job id must be a UUID, got %q", raw))
		return
	}

	job, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, newJobResponse(job))
}
