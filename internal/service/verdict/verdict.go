// Package verdict scores the fused timeline against the developer's segment
// specification. It is a pure string-and-arithmetic scorer: no model calls,
// no clocks, no randomness, so identical inputs always yield identical
// verdicts.
package verdict

import (
	"math"
	"sort"

	"playtest-telemetry-service/internal/models"
)

// warnDeviationCeiling is the deviation below which a right-dimensioned miss
// stays a WARN rather than escalating.
const warnDeviationCeiling = 0.25

// dominanceMargin is how far a wrong dimension's average must exceed the
// target's before the occurrence fails outright.
const dominanceMargin = 0.2

// occurrence is one contiguous run of a single segment in the fused
// timeline.
type occurrence struct {
	segment string
	index   int
	rows    []models.FusedRow
}

// Score computes one verdict per segment occurrence. A segment appearing
// twice non-contiguously yields two occurrences, each scored independently;
// a player re-entering a state is a separate attempt. Occurrences whose
// segment has no spec (including the sentinel segment) are not scorable and
// are skipped.
func Score(fused []models.FusedRow, specs []models.SegmentSpec) []models.Verdict {
	specByName := make(map[string]models.SegmentSpec, len(specs))
	for _, s := range specs {
		specByName[s.Name] = s
	}

	var verdicts []models.Verdict
	for _, occ := range groupOccurrences(fused) {
		spec, ok := specByName[occ.segment]
		if !ok {
			continue
		}
		verdicts = append(verdicts, scoreOccurrence(occ, spec))
	}
	return verdicts
}

// groupOccurrences splits the fused rows into contiguous same-segment runs,
// numbering repeat visits of a segment from zero.
func groupOccurrences(fused []models.FusedRow) []occurrence {
	var occs []occurrence
	counts := make(map[string]int)
	for _, row := range fused {
		if n := len(occs); n > 0 && occs[n-1].segment == row.SegmentName {
			occs[n-1].rows = append(occs[n-1].rows, row)
			continue
		}
		occs = append(occs, occurrence{
			segment: row.SegmentName,
			index:   counts[row.SegmentName],
			rows:    []models.FusedRow{row},
		})
		counts[row.SegmentName]++
	}
	return occs
}

func scoreOccurrence(occ occurrence, spec models.SegmentSpec) models.Verdict {
	observed := observedAverages(occ.rows)
	dominant := dominantDimension(observed)
	targetAvg := observed[spec.TargetDimension]

	lo, hi := spec.AcceptableRange[0], spec.AcceptableRange[1]
	actual := float64(len(occ.rows))

	deviation := deviationScore(targetAvg, lo, hi)
	outcome := outcomeFor(targetAvg, lo, hi, deviation, dominant, spec.TargetDimension, observed)
	if outcome == models.OutcomePass {
		deviation = 0.0
	}

	return models.Verdict{
		SegmentName:         occ.segment,
		OccurrenceIndex:     occ.index,
		ObservedAvg:         observed,
		DominantDimension:   dominant,
		DeviationScore:      round4(deviation),
		ActualDurationSec:   actual,
		ExpectedDurationSec: spec.ExpectedDurationSec,
		TimeDeltaSec:        round4(actual - spec.ExpectedDurationSec),
		Outcome:             outcome,
	}
}

// outcomeFor applies the ordered outcome rules. Being in range always wins
// regardless of what else is high; being badly wrong-dimensioned is the only
// other route to outright failure; everything else defaults to the
// cautionary middle state, since threshold-based affect scoring is
// inherently noisy.
func outcomeFor(targetAvg, lo, hi, deviation float64, dominant, target string, observed map[string]float64) models.Outcome {
	switch {
	case targetAvg >= lo && targetAvg <= hi:
		return models.OutcomePass
	case dominant == target && deviation < warnDeviationCeiling:
		return models.OutcomeWarn
	case dominant != target && observed[dominant] > targetAvg+dominanceMargin:
		return models.OutcomeFail
	default:
		return models.OutcomeWarn
	}
}

// deviationScore normalizes the distance from the acceptable range's
// midpoint against how far that midpoint sits from the nearest boundary of
// [0,1], so a target range centered near an extreme is not unfairly
// penalized. Always in [0,1].
func deviationScore(targetAvg, lo, hi float64) float64 {
	mid := lo + (hi-lo)/2
	denom := math.Max(mid, 1-mid)
	d := math.Abs(targetAvg-mid) / denom
	return math.Min(math.Max(d, 0), 1)
}

// observedAverages means each dimension over the rows it appears in.
func observedAverages(rows []models.FusedRow) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, row := range rows {
		for dim, v := range row.DimensionValues {
			sums[dim] += v
			counts[dim]++
		}
	}
	avgs := make(map[string]float64, len(sums))
	for dim, sum := range sums {
		avgs[dim] = round4(sum / float64(counts[dim]))
	}
	return avgs
}

// dominantDimension picks the highest-averaging dimension, excluding the
// neutral baseline. Ties break lexicographically so replays are
// byte-identical.
func dominantDimension(observed map[string]float64) string {
	dims := make([]string, 0, len(observed))
	for dim := range observed {
		if dim == models.BaselineDimension {
			continue
		}
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	best := models.SentinelSegment
	bestVal := math.Inf(-1)
	for _, dim := range dims {
		if observed[dim] > bestVal {
			best = dim
			bestVal = observed[dim]
		}
	}
	return best
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
