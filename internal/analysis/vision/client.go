// Package vision implements analysis.Analyzer against the external
// vision-analysis HTTP service. Transport details stop here; the rest of the
// pipeline only ever sees ChunkObservations.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"playtest-telemetry-service/internal/analysis"
	"playtest-telemetry-service/internal/models"
)

// Client calls the vision-analysis service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the analysis service at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// analyzeRequest is the wire shape of one window analysis call.
type analyzeRequest struct {
	SessionID      string               `json:"session_id"`
	WindowIndex    int                  `json:"window_index"`
	WindowStartSec float64              `json:"window_start_sec"`
	WindowEndSec   float64              `json:"window_end_sec"`
	Segments       []models.SegmentSpec `json:"segments"`
	PrevSegment    string               `json:"prev_segment,omitempty"`
	PrevStatus     string               `json:"prev_status,omitempty"`
}

// AnalyzeWindow posts one window to the service and decodes its
// observations. Responses that fail validation are rejected here so a
// misbehaving upstream can never corrupt stitching.
func (c *Client) AnalyzeWindow(ctx context.Context, req analysis.Request) (models.ChunkObservation, error) {
	body, err := json.Marshal(analyzeRequest{
		SessionID:      req.SessionID,
		WindowIndex:    req.WindowIndex,
		WindowStartSec: req.WindowStartSec,
		WindowEndSec:   req.WindowEndSec,
		Segments:       req.Specs,
		PrevSegment:    req.PrevSegment,
		PrevStatus:     req.PrevStatus,
	})
	if err != nil {
		return models.ChunkObservation{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return models.ChunkObservation{}, fmt.Errorf("build analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return models.ChunkObservation{}, fmt.Errorf("analyze window %d: %w", req.WindowIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ChunkObservation{}, fmt.Errorf("analyze window %d: unexpected status %d", req.WindowIndex, resp.StatusCode)
	}

	var obs models.ChunkObservation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return models.ChunkObservation{}, fmt.Errorf("decode analyze response: %w", err)
	}
	obs.SessionID = req.SessionID
	obs.WindowIndex = req.WindowIndex
	if err := obs.Validate(); err != nil {
		return models.ChunkObservation{}, fmt.Errorf("analyze window %d: %w", req.WindowIndex, err)
	}
	return obs, nil
}
