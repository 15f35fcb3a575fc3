// Package analysis defines the boundary to the external vision-analysis
// service that turns a window of gameplay video into a batch of discrete
// observations. The core never calls the service directly; it consumes
// ChunkObservations produced through this boundary.
package analysis

import (
	"context"

	"playtest-telemetry-service/internal/models"
)

// Request describes one window of source video to analyze. PrevSegment and
// PrevStatus carry the preceding window's end context so the provider can
// reason about cross-window continuity.
type Request struct {
	SessionID      string
	WindowIndex    int
	WindowStartSec float64
	WindowEndSec   float64
	Specs          []models.SegmentSpec
	PrevSegment    string
	PrevStatus     string
}

// Analyzer is the interface vision-analysis providers implement.
type Analyzer interface {
	// AnalyzeWindow analyzes one fixed-length window and returns its
	// observations. Implementations must be safe for concurrent calls.
	AnalyzeWindow(ctx context.Context, req Request) (models.ChunkObservation, error)
}
