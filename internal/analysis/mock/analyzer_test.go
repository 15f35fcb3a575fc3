package mock

import (
	"context"
	"reflect"
	"testing"

	"playtest-telemetry-service/internal/analysis"
	"playtest-telemetry-service/internal/models"
)

func testSpecs() []models.SegmentSpec {
	return []models.SegmentSpec{
		{Name: "tutorial", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.4}, ExpectedDurationSec: 15},
		{Name: "boss", TargetDimension: "excitement", AcceptableRange: [2]float64{0.4, 0.9}, ExpectedDurationSec: 15},
	}
}

func TestAnalyzeWindow_Deterministic(t *testing.T) {
	a := New()
	req := analysis.Request{
		SessionID:      "sess-1",
		WindowIndex:    1,
		WindowStartSec: 15,
		WindowEndSec:   30,
		Specs:          testSpecs(),
		PrevSegment:    "tutorial",
	}

	first, err := a.AnalyzeWindow(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := a.AnalyzeWindow(context.Background(), req)

	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical observations for identical requests")
	}
}

func TestAnalyzeWindow_SegmentTransition(t *testing.T) {
	a := New()
	obs, err := a.AnalyzeWindow(context.Background(), analysis.Request{
		SessionID:      "sess-1",
		WindowIndex:    1,
		WindowStartSec: 15,
		WindowEndSec:   30,
		Specs:          testSpecs(),
		PrevSegment:    "tutorial",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Window 1 maps to "boss"; the previous segment occupies the first half.
	if len(obs.StatesObserved) != 2 {
		t.Fatalf("expected 2 observations across a transition, got %d", len(obs.StatesObserved))
	}
	if obs.StatesObserved[0].SegmentName != "tutorial" || obs.StatesObserved[0].OffsetSec != 0 {
		t.Errorf("unexpected first observation: %+v", obs.StatesObserved[0])
	}
	if obs.StatesObserved[1].SegmentName != "boss" || obs.StatesObserved[1].OffsetSec != 7.5 {
		t.Errorf("unexpected second observation: %+v", obs.StatesObserved[1])
	}
	if obs.EndSegment != "boss" {
		t.Errorf("expected end segment boss, got %s", obs.EndSegment)
	}
}

func TestAnalyzeWindow_PointEventEveryThirdWindow(t *testing.T) {
	a := New()
	for _, tt := range []struct {
		index     int
		wantEvent bool
	}{
		{0, false}, {1, false}, {2, true}, {5, true}, {6, false},
	} {
		obs, err := a.AnalyzeWindow(context.Background(), analysis.Request{
			SessionID:      "sess-1",
			WindowIndex:    tt.index,
			WindowStartSec: float64(tt.index * 15),
			WindowEndSec:   float64((tt.index + 1) * 15),
			Specs:          testSpecs(),
		})
		if err != nil {
			t.Fatalf("window %d: unexpected error: %v", tt.index, err)
		}
		if got := len(obs.PointEvents) > 0; got != tt.wantEvent {
			t.Errorf("window %d: expected event=%v, got %v", tt.index, tt.wantEvent, got)
		}
	}
}

func TestAnalyzeWindow_NoSpecs(t *testing.T) {
	a := New()
	obs, err := a.AnalyzeWindow(context.Background(), analysis.Request{
		SessionID:      "sess-1",
		WindowIndex:    0,
		WindowStartSec: 0,
		WindowEndSec:   15,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.StatesObserved[0].SegmentName != models.SentinelSegment {
		t.Errorf("expected sentinel segment without specs, got %s", obs.StatesObserved[0].SegmentName)
	}
	if err := obs.Validate(); err != nil {
		t.Errorf("expected valid observation, got %v", err)
	}
}
