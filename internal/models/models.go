// Package models defines the data structures exchanged between the
// telemetry pipeline stages: segment specs, sensor readings, chunk
// observations, the fused timeline, and verdicts.
package models

import (
	"fmt"
	"math"
)

// SentinelSegment labels timeline spans that no chunk claimed. Callers must
// treat it as a data-quality problem, not a crash.
const SentinelSegment = "unknown"

// BaselineDimension is the neutral affect dimension excluded when picking a
// dominant dimension. It tracks overall attention, not a specific emotion.
const BaselineDimension = "engagement"

// Stream names for the two continuous sensor sources.
const (
	StreamAffect = "affect"
	StreamPhysio = "physio"
)

// Severity levels for point events, ordered from least to most severe.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SeverityRank returns an ordering value for a severity label. Unknown
// labels rank below info so a recognized severity always wins a dedup tie.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ValidationError reports a rejected input, naming the offending field.
// Inputs are never silently clamped; that would corrupt scoring without the
// caller's knowledge.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// SegmentSpec describes one developer-defined phase of the intended
// experience. Immutable once a session starts; referenced by name.
type SegmentSpec struct {
	Name                string     `json:"name" yaml:"name"`
	Description         string     `json:"description,omitempty" yaml:"description,omitempty"`
	VisualCues          []string   `json:"visual_cues,omitempty" yaml:"visual_cues,omitempty"`
	FailureIndicators   []string   `json:"failure_indicators,omitempty" yaml:"failure_indicators,omitempty"`
	SuccessIndicators   []string   `json:"success_indicators,omitempty" yaml:"success_indicators,omitempty"`
	TargetDimension     string     `json:"target_dimension" yaml:"target_dimension"`
	AcceptableRange     [2]float64 `json:"acceptable_range" yaml:"acceptable_range"`
	ExpectedDurationSec float64    `json:"expected_duration_sec" yaml:"expected_duration_sec"`
}

// Validate checks the spec's numeric constraints.
func (s *SegmentSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if s.TargetDimension == "" {
		return &ValidationError{Field: "target_dimension", Msg: "must not be empty"}
	}
	lo, hi := s.AcceptableRange[0], s.AcceptableRange[1]
	if lo > hi {
		return &ValidationError{Field: "acceptable_range", Msg: fmt.Sprintf("lo %.3f > hi %.3f", lo, hi)}
	}
	if lo < 0 || hi > 1 {
		return &ValidationError{Field: "acceptable_range", Msg: fmt.Sprintf("[%.3f, %.3f] outside [0,1]", lo, hi)}
	}
	if s.ExpectedDurationSec <= 0 {
		return &ValidationError{Field: "expected_duration_sec", Msg: "must be > 0"}
	}
	return nil
}

// SensorReading is one sample from either continuous stream: the high-rate
// affect stream or the low-rate physiological stream. Readings are immutable
// once received; a session owns an append-only, timestamp-ordered sequence
// per stream.
type SensorReading struct {
	SessionID    string             `json:"session_id"`
	TimestampSec float64            `json:"timestamp_sec"`
	Values       map[string]float64 `json:"values"`
}

// Validate rejects out-of-range readings, naming the offending dimension.
func (r *SensorReading) Validate() error {
	if r.TimestampSec < 0 || math.IsNaN(r.TimestampSec) {
		return &ValidationError{Field: "timestamp_sec", Msg: "must be >= 0"}
	}
	if len(r.Values) == 0 {
		return &ValidationError{Field: "values", Msg: "must not be empty"}
	}
	for dim, v := range r.Values {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return &ValidationError{
				Field: "values." + dim,
				Msg:   fmt.Sprintf("%.4f outside [0,1]", v),
			}
		}
	}
	return nil
}

// StateObservation is one segment sighting inside an analyzed window.
// OffsetSec is relative to the window start.
type StateObservation struct {
	SegmentName string  `json:"segment_name"`
	Confidence  float64 `json:"confidence"`
	OffsetSec   float64 `json:"offset_sec"`
}

// EventObservation is a point event inside an analyzed window.
type EventObservation struct {
	Label     string  `json:"label"`
	Severity  string  `json:"severity"`
	OffsetSec float64 `json:"offset_sec"`
}

// ChunkObservation is the output of one externally-analyzed time window of
// source video. Windows are produced in processing-completion order and may
// describe overlapping or adjacent time spans. EndSegment and EndStatus carry
// continuity context into the next sequential window's analysis request; the
// stitcher does not consume them.
type ChunkObservation struct {
	SessionID      string             `json:"session_id"`
	WindowIndex    int                `json:"window_index"`
	WindowStartSec float64            `json:"window_start_sec"`
	WindowEndSec   float64            `json:"window_end_sec"`
	StatesObserved []StateObservation `json:"states_observed"`
	PointEvents    []EventObservation `json:"point_events"`
	EndSegment     string             `json:"end_segment"`
	EndStatus      string             `json:"end_status"`
}

// Validate checks window bounds and observation ranges.
func (c *ChunkObservation) Validate() error {
	if c.WindowIndex < 0 {
		return &ValidationError{Field: "window_index", Msg: "must be >= 0"}
	}
	if c.WindowStartSec < 0 {
		return &ValidationError{Field: "window_start_sec", Msg: "must be >= 0"}
	}
	if c.WindowEndSec <= c.WindowStartSec {
		return &ValidationError{
			Field: "window_end_sec",
			Msg:   fmt.Sprintf("%.2f not after window_start_sec %.2f", c.WindowEndSec, c.WindowStartSec),
		}
	}
	for i, obs := range c.StatesObserved {
		if obs.SegmentName == "" {
			return &ValidationError{Field: fmt.Sprintf("states_observed[%d].segment_name", i), Msg: "must not be empty"}
		}
		if obs.Confidence < 0 || obs.Confidence > 1 {
			return &ValidationError{
				Field: fmt.Sprintf("states_observed[%d].confidence", i),
				Msg:   fmt.Sprintf("%.4f outside [0,1]", obs.Confidence),
			}
		}
		if obs.OffsetSec < 0 {
			return &ValidationError{Field: fmt.Sprintf("states_observed[%d].offset_sec", i), Msg: "must be >= 0"}
		}
	}
	for i, ev := range c.PointEvents {
		if ev.Label == "" {
			return &ValidationError{Field: fmt.Sprintf("point_events[%d].label", i), Msg: "must not be empty"}
		}
		if ev.OffsetSec < 0 {
			return &ValidationError{Field: fmt.Sprintf("point_events[%d].offset_sec", i), Msg: "must be >= 0"}
		}
	}
	return nil
}

// SegmentInterval is one contiguous span of the discrete timeline occupied by
// a single segment. Spans are half-open: [StartSec, EndSec).
type SegmentInterval struct {
	SegmentName string `json:"segment_name"`
	StartSec    int    `json:"start_sec"`
	EndSec      int    `json:"end_sec"`
}

// PointEvent is a deduplicated session-level point event with an absolute
// timestamp.
type PointEvent struct {
	Label        string  `json:"label"`
	Severity     string  `json:"severity"`
	TimestampSec float64 `json:"timestamp_sec"`
}

// DiscreteTimeline is the stitched, ordered, non-overlapping sequence of
// segment intervals covering [0, duration), plus ordered point events.
// Invariant: intervals are contiguous and monotonically increasing in
// StartSec; every second of the session belongs to exactly one interval.
type DiscreteTimeline struct {
	Intervals []SegmentInterval `json:"intervals"`
	Events    []PointEvent      `json:"events"`
}

// DurationSec returns the total span covered by the timeline.
func (tl *DiscreteTimeline) DurationSec() int {
	if len(tl.Intervals) == 0 {
		return 0
	}
	return tl.Intervals[len(tl.Intervals)-1].EndSec
}

// SegmentAt returns the segment occupying second t, or SentinelSegment when t
// falls outside the timeline.
func (tl *DiscreteTimeline) SegmentAt(t int) string {
	for _, iv := range tl.Intervals {
		if t >= iv.StartSec && t < iv.EndSec {
			return iv.SegmentName
		}
	}
	return SentinelSegment
}

// DataQuality flags how much fresh sensor data contributed to a fused row.
type DataQuality string

const (
	// QualityFull means both streams contributed a fresh reading.
	QualityFull DataQuality = "full"
	// QualityPartial means exactly one stream was fresh.
	QualityPartial DataQuality = "partial"
	// QualityMissing means both streams were forward-filled from more than
	// five seconds earlier.
	QualityMissing DataQuality = "missing"
)

// FusedRow is one second of the fused analytic timeline. The sequence of T
// values across a session is exactly 0..duration-1 with no duplicates or
// gaps.
type FusedRow struct {
	T                 int                `json:"t"`
	SegmentName       string             `json:"segment_name"`
	TimeInSegmentSec  int                `json:"time_in_segment_sec"`
	DimensionValues   map[string]float64 `json:"dimension_values"`
	DominantDimension string             `json:"dominant_dimension"`
	DataQuality       DataQuality        `json:"data_quality"`
}

// Outcome is the three-valued verdict result.
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeWarn Outcome = "WARN"
	OutcomeFail Outcome = "FAIL"
)

// Verdict scores one occurrence of a segment. A segment that recurs
// non-contiguously yields one verdict per occurrence. Computed once per
// finalized session, immutable thereafter; recomputed wholesale if the
// session is re-finalized.
type Verdict struct {
	SegmentName         string             `json:"segment_name"`
	OccurrenceIndex     int                `json:"occurrence_index"`
	ObservedAvg         map[string]float64 `json:"observed_avg"`
	DominantDimension   string             `json:"dominant_dimension"`
	DeviationScore      float64            `json:"deviation_score"`
	ActualDurationSec   float64            `json:"actual_duration_sec"`
	ExpectedDurationSec float64            `json:"expected_duration_sec"`
	TimeDeltaSec        float64            `json:"time_delta_sec"`
	Outcome             Outcome            `json:"outcome"`
}

// SessionScore is the headline number for one session, derived on demand
// from its verdicts.
type SessionScore struct {
	SessionID string  `json:"session_id"`
	Score     float64 `json:"score"`
	PassCount int     `json:"pass_count"`
	WarnCount int     `json:"warn_count"`
	FailCount int     `json:"fail_count"`
}

// SegmentRollup is the cross-session aggregate for one segment.
type SegmentRollup struct {
	SegmentName   string  `json:"segment_name"`
	PassCount     int     `json:"pass_count"`
	WarnCount     int     `json:"warn_count"`
	FailCount     int     `json:"fail_count"`
	MeanTargetAvg float64 `json:"mean_target_avg"`
	MeanDeviation float64 `json:"mean_deviation"`
	Occurrences   int     `json:"occurrences"`
}

// ProjectAggregate ranks segments across all finalized sessions of a project
// by fail count, then mean deviation: a pain point ordering. Always a view
// over session-level verdicts, never authoritative state.
type ProjectAggregate struct {
	ProjectID string          `json:"project_id"`
	Sessions  int             `json:"sessions"`
	Segments  []SegmentRollup `json:"segments"`
}

// Session lifecycle states.
const (
	SessionCreated          = "created"
	SessionRecording        = "recording"
	SessionProcessing       = "processing"
	SessionComplete         = "complete"
	SessionInsufficientData = "insufficient_data"
)

// Session is one recorded playtest run.
type Session struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	TesterName  string  `json:"tester_name,omitempty"`
	Status      string  `json:"status"`
	DurationSec int     `json:"duration_sec"`
	Score       float64 `json:"score,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// Project groups sessions under one ordered segment specification.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	GameName  string        `json:"game_name,omitempty"`
	Specs     []SegmentSpec `json:"specs"`
	CreatedAt string        `json:"created_at"`
}
