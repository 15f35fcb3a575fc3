// Package finalize runs the session finalization pipeline: collect the
// session's chunk observations and sensor streams, stitch, fuse, score, and
// persist. The four stages execute strictly sequentially; each is a pure
// function of the previous stage's output, so re-finalizing a session with
// the same inputs reproduces the same results byte for byte.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"playtest-telemetry-service/internal/analysis"
	"playtest-telemetry-service/internal/events"
	"playtest-telemetry-service/internal/models"
	"playtest-telemetry-service/internal/observability/metrics"
	"playtest-telemetry-service/internal/service/aggregate"
	"playtest-telemetry-service/internal/service/fusion"
	"playtest-telemetry-service/internal/service/stitch"
	"playtest-telemetry-service/internal/service/verdict"
	"playtest-telemetry-service/internal/store"
)

// ErrInsufficientData marks a session that cannot produce a single fused
// row. Distinct from computation errors: the session is intact, there is
// just nothing to score.
var ErrInsufficientData = errors.New("insufficient data to finalize session")

// missingAlertRatio is the share of missing-quality rows above which a
// quality alert is published alongside the verdict event.
const missingAlertRatio = 0.25

// Engine coordinates one session's finalization against the store, the
// analysis boundary, and the event publisher.
type Engine struct {
	store     *store.Store
	runner    *analysis.Runner
	publisher *events.Publisher
	windowSec int
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates a finalize engine. runner may be nil when chunk
// observations only ever arrive through ingestion; windowSec is the
// fixed analysis window length used to detect unanalyzed spans.
func NewEngine(st *store.Store, runner *analysis.Runner, publisher *events.Publisher, windowSec int, log zerolog.Logger) *Engine {
	if windowSec <= 0 {
		windowSec = 15
	}
	return &Engine{
		store:     st,
		runner:    runner,
		publisher: publisher,
		windowSec: windowSec,
		log:       log,
		metrics:   metrics.DefaultMetrics,
	}
}

// Result is everything one finalize produces.
type Result struct {
	Session  models.Session         `json:"session"`
	Timeline models.DiscreteTimeline `json:"timeline"`
	Rows     []models.FusedRow      `json:"rows"`
	Verdicts []models.Verdict       `json:"verdicts"`
	Score    models.SessionScore    `json:"score"`
}

// Finalize runs the pipeline for one session. durationSec overrides the
// session length; when zero it is derived from the latest chunk window or
// sensor reading. The project's segment specs are snapshotted at this
// moment: later edits never rewrite this session's verdicts.
func (e *Engine) Finalize(ctx context.Context, sessionID string, durationSec int) (Result, error) {
	start := time.Now()

	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		return Result{}, err
	}
	project, err := e.store.GetProject(sess.ProjectID)
	if err != nil {
		return Result{}, err
	}
	specs := project.Specs

	if err := e.store.SetSessionStatus(sessionID, models.SessionProcessing); err != nil {
		return Result{}, err
	}

	chunks, err := e.store.Chunks(sessionID)
	if err != nil {
		return Result{}, err
	}
	affect, err := e.store.Readings(sessionID, models.StreamAffect)
	if err != nil {
		return Result{}, err
	}
	physio, err := e.store.Readings(sessionID, models.StreamPhysio)
	if err != nil {
		return Result{}, err
	}

	duration := durationSec
	if duration <= 0 {
		duration = deriveDuration(chunks, affect, physio)
	}
	if duration <= 0 {
		e.metrics.SessionsFinalized.WithLabelValues(models.SessionInsufficientData).Inc()
		if err := e.store.SetSessionStatus(sessionID, models.SessionInsufficientData); err != nil {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("session %s: %w", sessionID, ErrInsufficientData)
	}

	// Analyze any window no chunk covered yet, so stitching always sees a
	// complete input set.
	if e.runner != nil {
		extra, err := e.analyzeMissingWindows(ctx, sessionID, chunks, specs, duration)
		if err != nil {
			return Result{}, err
		}
		for _, obs := range extra {
			if err := e.store.AppendChunk(obs); err != nil {
				return Result{}, err
			}
		}
		chunks = append(chunks, extra...)
	}

	timeline := stitch.Stitch(chunks, duration)
	rows := fusion.Fuse(timeline, affect, physio, duration)
	if len(rows) == 0 {
		e.metrics.SessionsFinalized.WithLabelValues(models.SessionInsufficientData).Inc()
		if err := e.store.SetSessionStatus(sessionID, models.SessionInsufficientData); err != nil {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("session %s: %w", sessionID, ErrInsufficientData)
	}

	verdicts := verdict.Score(rows, specs)
	score := aggregate.SessionScore(sessionID, verdicts)

	sess.DurationSec = duration
	sess.Status = models.SessionComplete
	sess.Score = score.Score

	if err := e.store.SaveFinalizeResult(store.FinalizeResult{
		Session:  sess,
		Specs:    specs,
		Rows:     rows,
		Events:   timeline.Events,
		Verdicts: verdicts,
		Score:    score,
	}); err != nil {
		return Result{}, err
	}

	e.recordMetrics(rows, verdicts)
	e.metrics.SessionsFinalized.WithLabelValues(models.SessionComplete).Inc()
	e.metrics.FinalizeDuration.Observe(time.Since(start).Seconds())

	e.publishEvents(ctx, project.ID, sess, rows, verdicts, score)

	e.log.Info().
		Str("sessionId", sessionID).
		Int("durationSec", duration).
		Int("verdicts", len(verdicts)).
		Float64("score", score.Score).
		Msg("session finalized")

	return Result{
		Session:  sess,
		Timeline: timeline,
		Rows:     rows,
		Verdicts: verdicts,
		Score:    score,
	}, nil
}

// ProjectAggregate recomputes the cross-session rollup from finalized
// verdicts. Runs concurrently with other sessions' finalization without
// coordination; at most it misses a session still mid-finalize.
func (e *Engine) ProjectAggregate(projectID string) (models.ProjectAggregate, error) {
	if _, err := e.store.GetProject(projectID); err != nil {
		return models.ProjectAggregate{}, err
	}
	sets, err := e.store.VerdictsByProject(projectID)
	if err != nil {
		return models.ProjectAggregate{}, err
	}
	sessions := make([]aggregate.SessionVerdicts, len(sets))
	for i, set := range sets {
		sessions[i] = aggregate.SessionVerdicts{
			SessionID: set.SessionID,
			Verdicts:  set.Verdicts,
			Specs:     set.Specs,
		}
	}
	return aggregate.ProjectAggregate(projectID, sessions), nil
}

// analyzeMissingWindows finds windows no stored chunk covers and runs them
// through the analysis boundary. Failed windows come back degraded, never
// absent.
func (e *Engine) analyzeMissingWindows(ctx context.Context, sessionID string, chunks []models.ChunkObservation, specs []models.SegmentSpec, duration int) ([]models.ChunkObservation, error) {
	covered := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		covered[c.WindowIndex] = true
	}

	total := (duration + e.windowSec - 1) / e.windowSec
	var missing []analysis.Window
	for i := 0; i < total; i++ {
		if covered[i] {
			continue
		}
		end := float64((i + 1) * e.windowSec)
		if end > float64(duration) {
			end = float64(duration)
		}
		missing = append(missing, analysis.Window{
			Index:    i,
			StartSec: float64(i * e.windowSec),
			EndSec:   end,
		})
	}
	if len(missing) == 0 {
		return nil, nil
	}

	e.log.Info().
		Str("sessionId", sessionID).
		Int("windows", len(missing)).
		Msg("analyzing windows missing chunk observations")
	return e.runner.Run(ctx, sessionID, missing, specs)
}

func (e *Engine) recordMetrics(rows []models.FusedRow, verdicts []models.Verdict) {
	e.metrics.FusedRowsProduced.Add(float64(len(rows)))
	for _, row := range rows {
		e.metrics.FusedRowQuality.WithLabelValues(string(row.DataQuality)).Inc()
	}
	for _, v := range verdicts {
		e.metrics.VerdictOutcomes.WithLabelValues(string(v.Outcome)).Inc()
	}
}

func (e *Engine) publishEvents(ctx context.Context, projectID string, sess models.Session, rows []models.FusedRow, verdicts []models.Verdict, score models.SessionScore) {
	if e.publisher == nil {
		return
	}
	now := time.Now().UnixMilli()

	if err := e.publisher.PublishFinalized(ctx, events.SessionFinalized{
		EventType:   "playtest.session.finalized",
		ProjectID:   projectID,
		SessionID:   sess.ID,
		Timestamp:   now,
		DurationSec: sess.DurationSec,
		Score:       score,
		Verdicts:    verdicts,
	}); err != nil {
		e.log.Error().Err(err).Str("sessionId", sess.ID).Msg("failed to publish finalized event")
	}

	missing, partial := 0, 0
	for _, row := range rows {
		switch row.DataQuality {
		case models.QualityMissing:
			missing++
		case models.QualityPartial:
			partial++
		}
	}
	missingRatio := float64(missing) / float64(len(rows))
	partialRatio := float64(partial) / float64(len(rows))
	if missingRatio > missingAlertRatio || missing+partial == len(rows) {
		if err := e.publisher.PublishQualityAlert(ctx, events.QualityAlert{
			EventType:    "playtest.session.quality",
			ProjectID:    projectID,
			SessionID:    sess.ID,
			Timestamp:    now,
			MissingRatio: round4(missingRatio),
			PartialRatio: round4(partialRatio),
		}); err != nil {
			e.log.Error().Err(err).Str("sessionId", sess.ID).Msg("failed to publish quality alert")
		}
	}
}

// deriveDuration infers session length from the latest chunk window end or
// sensor reading, whichever is later.
func deriveDuration(chunks []models.ChunkObservation, affect, physio []models.SensorReading) int {
	duration := 0
	for _, c := range chunks {
		if end := int(math.Ceil(c.WindowEndSec)); end > duration {
			duration = end
		}
	}
	for _, streams := range [][]models.SensorReading{affect, physio} {
		if len(streams) > 0 {
			if end := int(streams[len(streams)-1].TimestampSec) + 1; end > duration {
				duration = end
			}
		}
	}
	return duration
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
