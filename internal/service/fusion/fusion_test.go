package fusion

import (
	"reflect"
	"testing"

	"playtest-telemetry-service/internal/models"
)

func timeline(duration int, segment string) models.DiscreteTimeline {
	return models.DiscreteTimeline{
		Intervals: []models.SegmentInterval{
			{SegmentName: segment, StartSec: 0, EndSec: duration},
		},
	}
}

func reading(ts float64, values map[string]float64) models.SensorReading {
	return models.SensorReading{SessionID: "sess-1", TimestampSec: ts, Values: values}
}

func TestFuse_RowCompleteness(t *testing.T) {
	affect := []models.SensorReading{
		reading(0.2, map[string]float64{"calm": 0.5}),
		reading(7.1, map[string]float64{"calm": 0.6}),
	}
	physio := []models.SensorReading{
		reading(3.0, map[string]float64{"arousal": 0.4}),
	}

	rows := Fuse(timeline(10, "tutorial"), affect, physio, 10)

	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.T != i {
			t.Errorf("row %d: expected t=%d, got %d", i, i, row.T)
		}
		if _, ok := row.DimensionValues["calm"]; !ok {
			t.Errorf("row %d: missing calm dimension", i)
		}
		if _, ok := row.DimensionValues["arousal"]; !ok {
			t.Errorf("row %d: missing arousal dimension", i)
		}
	}
}

func TestFuse_AffectAveragedWithinSecond(t *testing.T) {
	affect := []models.SensorReading{
		reading(0.1, map[string]float64{"calm": 0.2}),
		reading(0.6, map[string]float64{"calm": 0.4}),
	}

	rows := Fuse(timeline(2, "tutorial"), affect, nil, 2)

	if got := rows[0].DimensionValues["calm"]; got != 0.3 {
		t.Errorf("expected averaged calm 0.3, got %v", got)
	}
	// Second 1 has no readings: forward-filled from second 0.
	if got := rows[1].DimensionValues["calm"]; got != 0.3 {
		t.Errorf("expected forward-filled calm 0.3, got %v", got)
	}
}

func TestFuse_PhysioStepFunction(t *testing.T) {
	physio := []models.SensorReading{
		reading(0, map[string]float64{"arousal": 0.5}),
		reading(4, map[string]float64{"arousal": 0.7}),
	}

	rows := Fuse(timeline(6, "tutorial"), nil, physio, 6)

	for _, tc := range []struct {
		t    int
		want float64
	}{
		{0, 0.5}, {1, 0.5}, {2, 0.5}, {3, 0.5}, {4, 0.7}, {5, 0.7},
	} {
		if got := rows[tc.t].DimensionValues["arousal"]; got != tc.want {
			t.Errorf("t=%d: expected arousal %v, got %v", tc.t, tc.want, got)
		}
	}
}

func TestFuse_SentinelBeforeFirstReading(t *testing.T) {
	affect := []models.SensorReading{
		reading(3.0, map[string]float64{"calm": 0.8}),
	}

	rows := Fuse(timeline(5, "tutorial"), affect, nil, 5)

	for tt := 0; tt < 3; tt++ {
		if got := rows[tt].DimensionValues["calm"]; got != 0.0 {
			t.Errorf("t=%d: expected 0.0 sentinel before first reading, got %v", tt, got)
		}
	}
	if got := rows[3].DimensionValues["calm"]; got != 0.8 {
		t.Errorf("t=3: expected 0.8, got %v", got)
	}
}

func TestFuse_DataQuality(t *testing.T) {
	affect := []models.SensorReading{
		reading(0.5, map[string]float64{"calm": 0.5}),
	}
	physio := []models.SensorReading{
		reading(0.5, map[string]float64{"arousal": 0.4}),
	}

	rows := Fuse(timeline(10, "tutorial"), affect, physio, 10)

	for _, tc := range []struct {
		t    int
		want models.DataQuality
	}{
		{0, models.QualityFull},
		{1, models.QualityPartial},
		{5, models.QualityPartial},
		// Both streams silent for more than five seconds.
		{6, models.QualityMissing},
		{9, models.QualityMissing},
	} {
		if got := rows[tc.t].DataQuality; got != tc.want {
			t.Errorf("t=%d: expected quality %s, got %s", tc.t, tc.want, got)
		}
	}
}

func TestFuse_EmptyPhysioNeverFull(t *testing.T) {
	affect := make([]models.SensorReading, 0, 10)
	for i := 0; i < 10; i++ {
		affect = append(affect, reading(float64(i), map[string]float64{"calm": 0.5}))
	}

	rows := Fuse(timeline(10, "tutorial"), affect, nil, 10)

	for _, row := range rows {
		if row.DataQuality != models.QualityPartial {
			t.Errorf("t=%d: expected partial with empty physio, got %s", row.T, row.DataQuality)
		}
	}
}

func TestFuse_DominantDimension(t *testing.T) {
	affect := []models.SensorReading{
		reading(0, map[string]float64{
			"calm":                   0.3,
			"frustration":            0.6,
			models.BaselineDimension: 0.9,
		}),
	}

	rows := Fuse(timeline(1, "tutorial"), affect, nil, 1)

	// The baseline dimension is excluded even when highest.
	if got := rows[0].DominantDimension; got != "frustration" {
		t.Errorf("expected dominant frustration, got %s", got)
	}
}

func TestFuse_DominantDimensionAllZero(t *testing.T) {
	rows := Fuse(timeline(1, "tutorial"), nil, nil, 1)

	if got := rows[0].DominantDimension; got != models.SentinelSegment {
		t.Errorf("expected sentinel dominant for empty streams, got %s", got)
	}
}

func TestFuse_TimeInSegment(t *testing.T) {
	tl := models.DiscreteTimeline{
		Intervals: []models.SegmentInterval{
			{SegmentName: "intro", StartSec: 0, EndSec: 3},
			{SegmentName: "boss", StartSec: 3, EndSec: 6},
		},
	}

	rows := Fuse(tl, nil, nil, 6)

	want := []int{0, 1, 2, 0, 1, 2}
	for i, w := range want {
		if rows[i].TimeInSegmentSec != w {
			t.Errorf("t=%d: expected time_in_segment %d, got %d", i, w, rows[i].TimeInSegmentSec)
		}
	}
}

func TestFuse_Deterministic(t *testing.T) {
	affect := []models.SensorReading{
		reading(0.3, map[string]float64{"calm": 0.41, "excitement": 0.41, "frustration": 0.2}),
		reading(1.7, map[string]float64{"calm": 0.5, "excitement": 0.3, "frustration": 0.1}),
	}
	physio := []models.SensorReading{
		reading(0, map[string]float64{"arousal": 0.44}),
	}

	first := Fuse(timeline(5, "tutorial"), affect, physio, 5)
	second := Fuse(timeline(5, "tutorial"), affect, physio, 5)

	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical rows across replays")
	}
	// Equal-valued dimensions break ties lexicographically.
	if first[0].DominantDimension != "calm" {
		t.Errorf("expected tie to resolve to calm, got %s", first[0].DominantDimension)
	}
}
