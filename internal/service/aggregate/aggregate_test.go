package aggregate

import (
	"testing"

	"playtest-telemetry-service/internal/models"
)

func verdict(segment string, outcome models.Outcome, deviation float64, observed map[string]float64) models.Verdict {
	return models.Verdict{
		SegmentName:    segment,
		ObservedAvg:    observed,
		DeviationScore: deviation,
		Outcome:        outcome,
	}
}

func TestSessionScore(t *testing.T) {
	verdicts := []models.Verdict{
		verdict("a", models.OutcomePass, 0, nil),
		verdict("b", models.OutcomePass, 0, nil),
		verdict("c", models.OutcomePass, 0, nil),
		verdict("d", models.OutcomeWarn, 0.2, nil),
		verdict("e", models.OutcomeFail, 0.6, nil),
	}

	score := SessionScore("sess-1", verdicts)

	if score.Score != 0.7 {
		t.Errorf("expected score 0.70, got %v", score.Score)
	}
	if score.PassCount != 3 || score.WarnCount != 1 || score.FailCount != 1 {
		t.Errorf("unexpected counts: %+v", score)
	}
}

func TestSessionScore_Empty(t *testing.T) {
	score := SessionScore("sess-1", nil)

	if score.Score != 0 {
		t.Errorf("expected 0 for empty verdicts, got %v", score.Score)
	}
}

func TestSessionScore_UpgradeRaisesScore(t *testing.T) {
	base := []models.Verdict{
		verdict("a", models.OutcomePass, 0, nil),
		verdict("b", models.OutcomeFail, 0.5, nil),
	}
	upgraded := []models.Verdict{
		verdict("a", models.OutcomePass, 0, nil),
		verdict("b", models.OutcomeWarn, 0.2, nil),
	}

	if SessionScore("s", upgraded).Score <= SessionScore("s", base).Score {
		t.Error("expected FAIL to WARN upgrade to raise the score")
	}
}

func TestProjectAggregate_PainPointRanking(t *testing.T) {
	specs := []models.SegmentSpec{
		{Name: "a", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
		{Name: "b", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
		{Name: "c", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
	}
	sessions := []SessionVerdicts{
		{
			SessionID: "s1",
			Specs:     specs,
			Verdicts: []models.Verdict{
				verdict("a", models.OutcomePass, 0, map[string]float64{"calm": 0.3}),
				verdict("b", models.OutcomeFail, 0.6, map[string]float64{"calm": 0.8}),
				verdict("c", models.OutcomeFail, 0.4, map[string]float64{"calm": 0.7}),
			},
		},
		{
			SessionID: "s2",
			Specs:     specs,
			Verdicts: []models.Verdict{
				verdict("a", models.OutcomeWarn, 0.1, map[string]float64{"calm": 0.55}),
				verdict("b", models.OutcomeFail, 0.8, map[string]float64{"calm": 0.9}),
				verdict("c", models.OutcomePass, 0, map[string]float64{"calm": 0.2}),
			},
		},
	}

	agg := ProjectAggregate("proj-1", sessions)

	if agg.Sessions != 2 {
		t.Errorf("expected 2 sessions, got %d", agg.Sessions)
	}
	wantOrder := []string{"b", "c", "a"}
	for i, name := range wantOrder {
		if agg.Segments[i].SegmentName != name {
			t.Errorf("rank %d: expected %s, got %s", i, name, agg.Segments[i].SegmentName)
		}
	}

	b := agg.Segments[0]
	if b.FailCount != 2 || b.Occurrences != 2 {
		t.Errorf("unexpected rollup for b: %+v", b)
	}
	if b.MeanDeviation != 0.7 {
		t.Errorf("expected mean deviation 0.7 for b, got %v", b.MeanDeviation)
	}
	if b.MeanTargetAvg != 0.85 {
		t.Errorf("expected mean target avg 0.85 for b, got %v", b.MeanTargetAvg)
	}
}

func TestProjectAggregate_TieBreaksByDeviationThenName(t *testing.T) {
	specs := []models.SegmentSpec{
		{Name: "x", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
		{Name: "y", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
		{Name: "z", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
	}
	sessions := []SessionVerdicts{{
		SessionID: "s1",
		Specs:     specs,
		Verdicts: []models.Verdict{
			verdict("z", models.OutcomeWarn, 0.2, map[string]float64{"calm": 0.6}),
			verdict("y", models.OutcomeWarn, 0.2, map[string]float64{"calm": 0.6}),
			verdict("x", models.OutcomeWarn, 0.3, map[string]float64{"calm": 0.65}),
		},
	}}

	agg := ProjectAggregate("proj-1", sessions)

	wantOrder := []string{"x", "y", "z"}
	for i, name := range wantOrder {
		if agg.Segments[i].SegmentName != name {
			t.Errorf("rank %d: expected %s, got %s", i, name, agg.Segments[i].SegmentName)
		}
	}
}

func TestProjectAggregate_Empty(t *testing.T) {
	agg := ProjectAggregate("proj-1", nil)

	if agg.Sessions != 0 || len(agg.Segments) != 0 {
		t.Errorf("expected empty aggregate, got %+v", agg)
	}
}

// Each session's rollup contribution reads the target dimension from that
// session's own spec snapshot, so a later spec edit changes nothing here.
func TestProjectAggregate_UsesPerSessionSnapshot(t *testing.T) {
	oldSpecs := []models.SegmentSpec{
		{Name: "a", TargetDimension: "calm", AcceptableRange: [2]float64{0, 0.5}, ExpectedDurationSec: 10},
	}
	newSpecs := []models.SegmentSpec{
		{Name: "a", TargetDimension: "excitement", AcceptableRange: [2]float64{0.5, 1}, ExpectedDurationSec: 10},
	}
	sessions := []SessionVerdicts{
		{
			SessionID: "s1",
			Specs:     oldSpecs,
			Verdicts: []models.Verdict{
				verdict("a", models.OutcomePass, 0, map[string]float64{"calm": 0.4, "excitement": 0.1}),
			},
		},
		{
			SessionID: "s2",
			Specs:     newSpecs,
			Verdicts: []models.Verdict{
				verdict("a", models.OutcomePass, 0, map[string]float64{"calm": 0.3, "excitement": 0.8}),
			},
		},
	}

	agg := ProjectAggregate("proj-1", sessions)

	// (0.4 from the calm-era session + 0.8 from the excitement-era one) / 2
	if agg.Segments[0].MeanTargetAvg != 0.6 {
		t.Errorf("expected mean target avg 0.6, got %v", agg.Segments[0].MeanTargetAvg)
	}
}
