package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"playtest-telemetry-service/internal/config"
	"playtest-telemetry-service/internal/models"
	"playtest-telemetry-service/internal/observability/metrics"
	"playtest-telemetry-service/internal/service/finalize"
	"playtest-telemetry-service/internal/store"
)

// Handlers implements the REST endpoints against the store and finalize
// engine.
type Handlers struct {
	store   *store.Store
	engine  *finalize.Engine
	ingest  config.IngestConfig
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewHandlers wires the endpoint implementations.
func NewHandlers(st *store.Store, engine *finalize.Engine, ingest config.IngestConfig, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:   st,
		engine:  engine,
		ingest:  ingest,
		log:     log,
		metrics: metrics.DefaultMetrics,
	}
}

type createProjectRequest struct {
	Name     string               `json:"name"`
	GameName string               `json:"game_name"`
	Specs    []models.SegmentSpec `json:"specs"`
}

func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	project, err := h.store.CreateProject(req.Name, req.GameName, req.Specs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info().Str("projectId", project.ID).Str("name", project.Name).Msg("project created")
	writeJSON(w, http.StatusCreated, project)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type updateSpecsRequest struct {
	Specs []models.SegmentSpec `json:"specs"`
}

func (h *Handlers) UpdateProjectSpecs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req updateSpecsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.UpdateProjectSpecs(projectID, req.Specs); err != nil {
		h.writeError(w, err)
		return
	}
	project, err := h.store.GetProject(projectID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handlers) ProjectAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := h.engine.ProjectAggregate(chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type createSessionRequest struct {
	TesterName string `json:"tester_name"`
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sess, err := h.store.CreateSession(chi.URLParam(r, "projectID"), req.TesterName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info().Str("projectId", sess.ProjectID).Str("sessionId", sess.ID).Msg("session created")
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type appendReadingsRequest struct {
	Readings []models.SensorReading `json:"readings"`
}

// AppendReadings ingests a batch of sensor readings for one stream. The
// whole batch is accepted or rejected; a partial write would break the
// stream's monotonic-timestamp invariant.
func (h *Handlers) AppendReadings(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	stream := chi.URLParam(r, "stream")

	var req appendReadingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.metrics.ReadingsRejected.WithLabelValues(stream).Inc()
		h.writeError(w, err)
		return
	}
	if len(req.Readings) == 0 {
		h.metrics.ReadingsRejected.WithLabelValues(stream).Inc()
		h.writeError(w, &models.ValidationError{Field: "readings", Msg: "must not be empty"})
		return
	}
	if len(req.Readings) > h.ingest.MaxBatchReadings {
		h.metrics.ReadingsRejected.WithLabelValues(stream).Inc()
		h.writeError(w, &models.ValidationError{
			Field: "readings",
			Msg:   fmt.Sprintf("batch of %d exceeds limit %d", len(req.Readings), h.ingest.MaxBatchReadings),
		})
		return
	}
	if last := req.Readings[len(req.Readings)-1].TimestampSec; last > float64(h.ingest.MaxSessionSec) {
		h.metrics.ReadingsRejected.WithLabelValues(stream).Inc()
		h.writeError(w, &models.ValidationError{
			Field: "readings",
			Msg:   fmt.Sprintf("timestamp %.1f exceeds session limit %ds", last, h.ingest.MaxSessionSec),
		})
		return
	}

	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sess.Status != models.SessionCreated && sess.Status != models.SessionRecording {
		h.metrics.ReadingsRejected.WithLabelValues(stream).Inc()
		h.writeError(w, &models.ValidationError{
			Field: "session",
			Msg:   fmt.Sprintf("status %q does not accept readings", sess.Status),
		})
		return
	}

	if err := h.store.AppendReadings(sessionID, stream, req.Readings); err != nil {
		h.metrics.ReadingsRejected.WithLabelValues(stream).Inc()
		h.writeError(w, err)
		return
	}
	if sess.Status == models.SessionCreated {
		if err := h.store.SetSessionStatus(sessionID, models.SessionRecording); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.metrics.ReadingsIngested.WithLabelValues(stream).Add(float64(len(req.Readings)))
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Readings)})
}

func (h *Handlers) AppendChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var chunk models.ChunkObservation
	if err := decodeJSON(r, &chunk); err != nil {
		h.metrics.ChunksRejected.Inc()
		h.writeError(w, err)
		return
	}
	chunk.SessionID = sessionID

	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sess.Status != models.SessionCreated && sess.Status != models.SessionRecording {
		h.metrics.ChunksRejected.Inc()
		h.writeError(w, &models.ValidationError{
			Field: "session",
			Msg:   fmt.Sprintf("status %q does not accept chunks", sess.Status),
		})
		return
	}

	if err := h.store.AppendChunk(chunk); err != nil {
		h.metrics.ChunksRejected.Inc()
		h.writeError(w, err)
		return
	}
	if sess.Status == models.SessionCreated {
		if err := h.store.SetSessionStatus(sessionID, models.SessionRecording); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.metrics.ChunksIngested.Inc()
	writeJSON(w, http.StatusAccepted, map[string]int{"window_index": chunk.WindowIndex})
}

type finalizeRequest struct {
	DurationSec int `json:"duration_sec"`
}

func (h *Handlers) Finalize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req finalizeRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	result, err := h.engine.Finalize(r.Context(), sessionID, req.DurationSec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) FusedRows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.FusedRows(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handlers) Verdicts(w http.ResponseWriter, r *http.Request) {
	verdicts, err := h.store.Verdicts(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verdicts": verdicts})
}

func (h *Handlers) TimelineEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.TimelineEvents(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handlers) Score(w http.ResponseWriter, r *http.Request) {
	score, err := h.store.Score(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Msg: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP statuses: validation failures are the
// caller's fault, missing records are 404, a session with nothing to score is
// 422, everything else is a server error.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, finalize.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
