package analysis

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"playtest-telemetry-service/internal/models"
	"playtest-telemetry-service/internal/observability/metrics"
)

// Window describes one fixed-length span of source video awaiting analysis.
type Window struct {
	Index    int
	StartSec float64
	EndSec   float64
}

// Runner drives the analysis of a session's windows with bounded
// concurrency. Each window's request carries the end context of the nearest
// earlier window that has already completed; continuity is best-effort,
// since in-flight windows may finish out of order.
//
// A window whose retries are exhausted is substituted with a degraded
// zero-confidence observation rather than failing the session; finalize must
// always receive a complete, if low-quality, input set.
type Runner struct {
	analyzer    Analyzer
	policy      *RetryPolicy
	maxInFlight int64
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// NewRunner creates a Runner. maxInFlight bounds concurrent analysis calls;
// values below 1 are treated as 1.
func NewRunner(analyzer Analyzer, policy *RetryPolicy, maxInFlight int, log zerolog.Logger) *Runner {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &Runner{
		analyzer:    analyzer,
		policy:      policy,
		maxInFlight: int64(maxInFlight),
		log:         log,
		metrics:     metrics.DefaultMetrics,
	}
}

// Run analyzes every window and returns one ChunkObservation per window, in
// completion order. The only error returned is context cancellation; upstream
// failures degrade individual windows instead.
func (r *Runner) Run(ctx context.Context, sessionID string, windows []Window, specs []models.SegmentSpec) ([]models.ChunkObservation, error) {
	sem := semaphore.NewWeighted(r.maxInFlight)

	var mu sync.Mutex
	byIndex := make(map[int]models.ChunkObservation, len(windows))
	completed := make([]models.ChunkObservation, 0, len(windows))

	var wg sync.WaitGroup
	for _, w := range windows {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(w Window) {
			defer sem.Release(1)
			defer wg.Done()

			prevSegment, prevStatus := r.latestContext(&mu, byIndex, w.Index)
			obs := r.analyzeWindow(ctx, sessionID, w, specs, prevSegment, prevStatus)

			mu.Lock()
			byIndex[w.Index] = obs
			completed = append(completed, obs)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return completed, nil
}

// latestContext finds the end context of the nearest earlier window that has
// already completed, if any.
func (r *Runner) latestContext(mu *sync.Mutex, byIndex map[int]models.ChunkObservation, index int) (string, string) {
	mu.Lock()
	defer mu.Unlock()
	for i := index - 1; i >= 0; i-- {
		if obs, ok := byIndex[i]; ok {
			return obs.EndSegment, obs.EndStatus
		}
	}
	return "", ""
}

func (r *Runner) analyzeWindow(ctx context.Context, sessionID string, w Window, specs []models.SegmentSpec, prevSegment, prevStatus string) models.ChunkObservation {
	req := Request{
		SessionID:      sessionID,
		WindowIndex:    w.Index,
		WindowStartSec: w.StartSec,
		WindowEndSec:   w.EndSec,
		Specs:          specs,
		PrevSegment:    prevSegment,
		PrevStatus:     prevStatus,
	}

	var obs models.ChunkObservation
	err := r.policy.Execute(ctx, func() error {
		result, callErr := r.analyzer.AnalyzeWindow(ctx, req)
		if callErr != nil {
			r.metrics.AnalysisRetries.Inc()
			return callErr
		}
		obs = result
		return nil
	})
	if err != nil {
		r.log.Warn().
			Str("sessionId", sessionID).
			Int("windowIndex", w.Index).
			Err(err).
			Msg("analysis retries exhausted, substituting degraded chunk")
		r.metrics.AnalysisDegraded.Inc()
		return degradedChunk(sessionID, w, prevSegment)
	}

	r.metrics.ChunksAnalyzed.Inc()
	return obs
}

// degradedChunk claims the whole window at zero confidence. With confidence
// below the stitcher's floor it yields to any overlapping real claim, and
// where nothing else covers the span it keeps the timeline contiguous.
func degradedChunk(sessionID string, w Window, prevSegment string) models.ChunkObservation {
	segment := prevSegment
	if segment == "" {
		segment = models.SentinelSegment
	}
	return models.ChunkObservation{
		SessionID:      sessionID,
		WindowIndex:    w.Index,
		WindowStartSec: w.StartSec,
		WindowEndSec:   w.EndSec,
		StatesObserved: []models.StateObservation{
			{SegmentName: segment, Confidence: 0.0, OffsetSec: 0.0},
		},
		EndSegment: segment,
		EndStatus:  "degraded",
	}
}
