// Package mock provides a deterministic vision analyzer for tests and local
// runs without the external analysis service. It walks the project's
// segments in order, one per window, carries the previous window's end
// segment into the first half of the next window, and reports a point event
// every third window.
package mock

import (
	"context"

	"playtest-telemetry-service/internal/analysis"
	"playtest-telemetry-service/internal/models"
)

// Analyzer implements analysis.Analyzer with scripted observations. The
// output is a pure function of the request, so replays are identical.
type Analyzer struct{}

// New creates a new mock analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// AnalyzeWindow fabricates one window's observations from the segment specs.
func (a *Analyzer) AnalyzeWindow(_ context.Context, req analysis.Request) (models.ChunkObservation, error) {
	obs := models.ChunkObservation{
		SessionID:      req.SessionID,
		WindowIndex:    req.WindowIndex,
		WindowStartSec: req.WindowStartSec,
		WindowEndSec:   req.WindowEndSec,
	}

	if len(req.Specs) == 0 {
		obs.StatesObserved = []models.StateObservation{
			{SegmentName: models.SentinelSegment, Confidence: 0.5, OffsetSec: 0},
		}
		obs.EndSegment = models.SentinelSegment
		return obs, nil
	}

	segment := req.Specs[req.WindowIndex%len(req.Specs)].Name
	half := (req.WindowEndSec - req.WindowStartSec) / 2

	if req.PrevSegment != "" && req.PrevSegment != segment {
		obs.StatesObserved = append(obs.StatesObserved, models.StateObservation{
			SegmentName: req.PrevSegment,
			Confidence:  0.8,
			OffsetSec:   0,
		})
		obs.StatesObserved = append(obs.StatesObserved, models.StateObservation{
			SegmentName: segment,
			Confidence:  0.9,
			OffsetSec:   half,
		})
	} else {
		obs.StatesObserved = append(obs.StatesObserved, models.StateObservation{
			SegmentName: segment,
			Confidence:  0.9,
			OffsetSec:   0,
		})
	}

	if req.WindowIndex%3 == 2 {
		obs.PointEvents = append(obs.PointEvents, models.EventObservation{
			Label:     "failure",
			Severity:  models.SeverityWarning,
			OffsetSec: half,
		})
	}

	obs.EndSegment = segment
	obs.EndStatus = "progressing"
	return obs, nil
}
