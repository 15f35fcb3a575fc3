package verdict

import (
	"math"
	"testing"

	"playtest-telemetry-service/internal/models"
)

func rowsFor(segment string, n int, values map[string]float64) []models.FusedRow {
	rows := make([]models.FusedRow, n)
	for i := range rows {
		rows[i] = models.FusedRow{
			T:               i,
			SegmentName:     segment,
			DimensionValues: values,
			DataQuality:     models.QualityFull,
		}
	}
	return rows
}

func spec(name, target string, lo, hi, expected float64) models.SegmentSpec {
	return models.SegmentSpec{
		Name:                name,
		TargetDimension:     target,
		AcceptableRange:     [2]float64{lo, hi},
		ExpectedDurationSec: expected,
	}
}

func TestScore_PassInRange(t *testing.T) {
	rows := rowsFor("tutorial", 30, map[string]float64{"calm": 0.2, "frustration": 0.1})
	specs := []models.SegmentSpec{spec("tutorial", "calm", 0.0, 0.35, 30)}

	verdicts := Score(rows, specs)

	if len(verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(verdicts))
	}
	v := verdicts[0]
	if v.Outcome != models.OutcomePass {
		t.Errorf("expected PASS, got %s", v.Outcome)
	}
	if v.DeviationScore != 0.0 {
		t.Errorf("expected deviation 0.0 on PASS, got %v", v.DeviationScore)
	}
	if v.ActualDurationSec != 30 {
		t.Errorf("expected actual duration 30, got %v", v.ActualDurationSec)
	}
	if v.TimeDeltaSec != 0 {
		t.Errorf("expected time delta 0, got %v", v.TimeDeltaSec)
	}
}

func TestScore_FailWrongDominant(t *testing.T) {
	// Target dimension far below range while another dimension towers over
	// it: the player felt the wrong thing.
	rows := rowsFor("puzzle", 20, map[string]float64{"curious": 0.22, "confused": 0.71})
	specs := []models.SegmentSpec{spec("puzzle", "curious", 0.4, 0.6, 20)}

	verdicts := Score(rows, specs)

	v := verdicts[0]
	if v.Outcome != models.OutcomeFail {
		t.Errorf("expected FAIL, got %s", v.Outcome)
	}
	if v.DominantDimension != "confused" {
		t.Errorf("expected dominant confused, got %s", v.DominantDimension)
	}
	// mid 0.5, denom 0.5: |0.22-0.5|/0.5 = 0.56
	if math.Abs(v.DeviationScore-0.56) > 1e-9 {
		t.Errorf("expected deviation 0.56, got %v", v.DeviationScore)
	}
}

func TestScore_WarnNearMiss(t *testing.T) {
	// Right dominant dimension, slightly under range: a near miss stays WARN.
	rows := rowsFor("tutorial", 30, map[string]float64{"calm": 0.49, "frustration": 0.1})
	specs := []models.SegmentSpec{spec("tutorial", "calm", 0.5, 0.8, 30)}

	verdicts := Score(rows, specs)

	if verdicts[0].Outcome != models.OutcomeWarn {
		t.Errorf("expected WARN, got %s", verdicts[0].Outcome)
	}
	if verdicts[0].DeviationScore == 0 {
		t.Error("expected non-zero deviation on WARN")
	}
}

func TestScore_WarnDefault(t *testing.T) {
	// Out of range, wrong dominant, but not by enough margin to fail.
	rows := rowsFor("tutorial", 10, map[string]float64{"calm": 0.45, "excitement": 0.5})
	specs := []models.SegmentSpec{spec("tutorial", "calm", 0.6, 0.9, 10)}

	verdicts := Score(rows, specs)

	if verdicts[0].Outcome != models.OutcomeWarn {
		t.Errorf("expected WARN, got %s", verdicts[0].Outcome)
	}
}

func TestScore_OccurrenceSplitting(t *testing.T) {
	values := map[string]float64{"calm": 0.2}
	var rows []models.FusedRow
	rows = append(rows, rowsFor("a", 5, values)...)
	rows = append(rows, rowsFor("b", 5, values)...)
	rows = append(rows, rowsFor("a", 5, values)...)
	for i := range rows {
		rows[i].T = i
	}
	specs := []models.SegmentSpec{
		spec("a", "calm", 0.0, 0.35, 5),
		spec("b", "calm", 0.0, 0.35, 5),
	}

	verdicts := Score(rows, specs)

	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	want := []struct {
		segment string
		index   int
	}{
		{"a", 0}, {"b", 0}, {"a", 1},
	}
	for i, w := range want {
		if verdicts[i].SegmentName != w.segment || verdicts[i].OccurrenceIndex != w.index {
			t.Errorf("verdict %d: expected %s[%d], got %s[%d]",
				i, w.segment, w.index, verdicts[i].SegmentName, verdicts[i].OccurrenceIndex)
		}
	}
}

func TestScore_UnscorableSegmentsSkipped(t *testing.T) {
	var rows []models.FusedRow
	rows = append(rows, rowsFor(models.SentinelSegment, 5, map[string]float64{"calm": 0.2})...)
	rows = append(rows, rowsFor("tutorial", 5, map[string]float64{"calm": 0.2})...)
	specs := []models.SegmentSpec{spec("tutorial", "calm", 0.0, 0.35, 5)}

	verdicts := Score(rows, specs)

	if len(verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(verdicts))
	}
	if verdicts[0].SegmentName != "tutorial" {
		t.Errorf("expected tutorial, got %s", verdicts[0].SegmentName)
	}
}

func TestScore_EmptyInputs(t *testing.T) {
	if got := Score(nil, nil); len(got) != 0 {
		t.Errorf("expected no verdicts, got %d", len(got))
	}
}

func TestDeviationScore_Bounds(t *testing.T) {
	tests := []struct {
		name           string
		avg, lo, hi    float64
		want           float64
	}{
		{"at midpoint", 0.5, 0.4, 0.6, 0},
		{"clamped high", 1.0, 0.45, 0.55, 1.0},
		{"low-centered range", 1.0, 0.0, 0.1, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deviationScore(tt.avg, tt.lo, tt.hi)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
