package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

type checkpointRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (req checkpointRequest) validate() error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return &patrol.FieldError{Field: "name"}
	case req.Latitude == nil || math.IsNaN(*req.Latitude) || math.Abs(*req.Latitude) > 90:
		return &patrol.FieldError{Field: "latitude", Reason: "required, between -90 and 90"}
	case req.Longitude == nil || math.IsNaN(*req.Longitude) || math.Abs(*req.Longitude) > 180:
		return &patrol.FieldError{Field: "longitude", Reason: "required, between -180 and 180"}
	}
	return nil
}

// createCheckpoint handles POST /v1/checkpoints. The barcode encodes the ID.
func (s *Server) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		s.writeDomainError(w, err)
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.writeDomainError(w, patrol.Internal("generate checkpoint id", err))
		return
	}
	cp := patrol.Checkpoint{
		ID:        id,
		Name:      patrol.NormalizeCheckpointName(req.Name),
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Barcode:   id,
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := s.deps.Checkpoints.CreateCheckpoint(r.Context(), cp); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"checkpoint": cp})
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.deps.Checkpoints.ListCheckpoints(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if cps == nil {
		cps = []patrol.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.deps.Checkpoints.GetCheckpoint(r.Context(), chi.URLParam(r, "checkpoint_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cp})
}

// deleteCheckpoint handles DELETE /v1/checkpoints/{checkpoint_id}; 409 while reports reference it.
func (s *Server) deleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkpoint_id")
	if err := s.deps.Checkpoints.DeleteCheckpoint(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
