package server

import (
	"net/http"

	"github.com/teranos/tren/ai/provider"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/logger"
)

// HandleListModels lists registered models.
//
//	GET /api/models
func (s *Server) HandleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if models == nil {
		models = []*job.Model{}
	}
	writeJSON(w, http.StatusOK, ModelListResponse{Models: models, Count: len(models)})
}

// HandleCreateModel registers or replaces a model.
//
//	POST /api/models {"id": "...", "name": "...", "params": "{...}"}
func (s *Server) HandleCreateModel(w http.ResponseWriter, r *http.Request) {
	var m job.Model
	if err := readJSON(w, r, &m); err != nil {
		return
	}
	if err := m.Validate(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, err := provider.ParseParams(m.Params); err != nil {
		s.writeServiceError(w, r, &job.ValidationError{Fields: []job.FieldError{
			{Field: "params", Message: err.Error(), Err: err},
		}})
		return
	}
	if err := s.models.Put(r.Context(), &m); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	saved, err := s.models.GetModel(r.Context(), m.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Infow("Model registered", logger.FieldModelID, saved.ID)
	writeJSON(w, http.StatusCreated, saved)
}
