package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/logger"
	"github.com/teranos/tren/pulse/async"
)

// HandleCreateJob accepts a multipart form: the request fields plus the
// document in input_file.
//
//	POST /api/jobs
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("input_file")
	if err != nil {
		s.writeServiceError(w, r, &job.ValidationError{Fields: []job.FieldError{
			{Field: "input_file", Message: "missing document", Err: err},
		}})
		return
	}
	defer file.Close()

	mimeType := uploadType(header)
	if !job.IsAcceptedType(mimeType) {
		// rejected before anything is stored
		s.writeServiceError(w, r, &job.ValidationError{Fields: []job.FieldError{
			{Field: "input_file", Message: "unsupported document type " + strconv.Quote(mimeType)},
		}})
		return
	}

	ref, err := s.blobs.Put(r.Context(), header.Filename, mimeType, file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	req := job.CreateRequest{
		Name:         r.FormValue("name"),
		SourceLang:   r.FormValue("source_lang"),
		TargetLang:   r.FormValue("target_lang"),
		Model:        r.FormValue("model"),
		SystemPrompt: r.FormValue("system_prompt"),
		UserPrompt:   r.FormValue("user_prompt"),
		InputFile:    ref,
	}

	j, err := s.queue.Submit(r.Context(), req)
	if err != nil {
		if derr := s.blobs.Delete(ref.Key); derr != nil {
			s.logger.Warnw("Failed to remove rejected upload", "key", ref.Key, "error", derr)
		}
		s.writeServiceError(w, r, err)
		return
	}

	if s.pool != nil {
		s.pool.Wake()
	}

	s.logger.Infow("Job submitted",
		logger.FieldJobID, j.ID,
		logger.FieldModelID, j.Model,
		logger.FieldFile, j.InputFile.Name,
	)
	if s.chunkers != nil {
		if err := s.chunkers.CheckSupported(j.InputFile.MIMEType); err != nil {
			s.logger.Warnw("Job submitted without a chunker", logger.FieldJobID, j.ID, logger.FieldError, err)
			w.Header().Set("Warning", `199 tren "`+err.Error()+`"`)
		}
	}
	writeJSON(w, http.StatusCreated, j)
}

// uploadType prefers the part's declared type and falls back to the extension
func uploadType(h *multipart.FileHeader) string {
	declared := job.BaseType(h.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return job.TypeForName(h.Filename)
}

// HandleListJobs lists jobs, newest first.
//
//	GET /api/jobs?status=waiting&limit=50
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	status := job.Status(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}
	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)

	jobs, err := s.queue.ListJobs(r.Context(), status, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}

	resp := JobListResponse{Jobs: jobs, Count: len(jobs)}
	if stats, err := s.queue.GetStats(r.Context()); err != nil {
		s.logger.Warnw("Failed to get queue stats", "error", err)
	} else {
		resp.Stats = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetJob returns one job with its chunk results and model usage.
//
//	GET /api/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	j, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := JobDetailResponse{Job: j}
	if chunks, err := s.queue.Store().Chunks(r.Context(), id); err != nil {
		s.logger.Warnw("Failed to load chunk results", logger.FieldJobID, id, "error", err)
	} else {
		resp.Chunks = chunks
	}
	if s.usage != nil {
		if usage, err := s.usage.JobUsage(r.Context(), id); err != nil {
			s.logger.Warnw("Failed to load model usage", logger.FieldJobID, id, "error", err)
		} else {
			resp.Usage = usage
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCancelJob cancels a waiting or processing job. A processing job is
// signalled and fails asynchronously, so the answer is 202 with the job as
// it was at that moment.
//
//	POST /api/jobs/{id}/cancel
func (s *Server) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var err error
	if s.pool != nil {
		err = s.pool.Cancel(r.Context(), id)
	} else {
		_, err = s.queue.CancelWaiting(r.Context(), id, async.ErrCancelledByUser.Error())
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	j, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Job cancel requested", logger.FieldJobID, id, logger.FieldStatus, j.Status)

	status := http.StatusOK
	if j.Status == job.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, j)
}

// HandleJobOutput streams the translated document of a succeeded job.
//
//	GET /api/jobs/{id}/output
func (s *Server) HandleJobOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	j, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if j.Status != job.StatusSucceeded || j.OutputFile == nil {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "job " + id + " has no output (status " + string(j.Status) + ")",
		})
		return
	}

	f, err := s.blobs.Open(j.OutputFile.Key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", j.OutputFile.MIMEType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(j.OutputFile.Name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warnw("Failed to stream output", logger.FieldJobID, id, "error", err)
	}
}

// HandleHealth reports liveness
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		State:   s.getState().String(),
		Version: versionString(),
		Clients: s.ClientCount(),
	})
}

// HandlePulse reports worker pool metrics.
//
//	GET /api/pulse
func (s *Server) HandlePulse(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "no worker pool on this node")
		return
	}
	running := s.pool.RunningJobs()
	if running == nil {
		running = []string{}
	}
	writeJSON(w, http.StatusOK, PulseResponse{
		Metrics:     s.pool.GetSystemMetrics(r.Context()),
		RunningJobs: running,
	})
}
