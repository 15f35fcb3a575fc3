// Package fusion aligns the discrete segment timeline with the two
// continuous sensor streams onto a single uniform per-second timeline.
//
// The affect stream (high rate) is resampled by averaging every reading that
// falls inside each second; gaps are forward-filled from the previous second
// and the t=0 edge uses a 0.0 sentinel. The physiological stream (low rate)
// is treated as a step function: last observation carried forward, never
// interpolated or averaged.
//
// Fusion is a deterministic single pass: one cursor per stream advancing
// monotonically with t, no random access, no second pass over rows. Both
// streams must be timestamp-ordered, which the ingestion path guarantees.
package fusion

import (
	"math"

	"playtest-telemetry-service/internal/models"
)

// staleThresholdSec is how far back a forward-fill may reach before the row
// is flagged missing rather than partial.
const staleThresholdSec = 5

// neverFresh marks a stream that has not yet produced a reading. Rows
// forward-filled from nothing carry the 0.0 sentinel and cap quality at
// partial; the missing flag is reserved for streams that went silent.
const neverFresh = -1

// Fuse produces exactly one FusedRow per whole second in [0, durationSec).
// The discrete timeline supplies the active segment for every second; the
// two streams supply averaged affect values and stepped physiological
// values. Row count and the t sequence are invariant regardless of how
// sparse the streams are.
func Fuse(discrete models.DiscreteTimeline, affect, physio []models.SensorReading, durationSec int) []models.FusedRow {
	if durationSec <= 0 {
		return nil
	}

	affectDims := collectDimensions(affect)
	physioDims := collectDimensions(physio)

	rows := make([]models.FusedRow, 0, durationSec)

	lastAffect := zeroValues(affectDims)
	lastPhysio := zeroValues(physioDims)
	affectFreshAt := neverFresh
	physioFreshAt := neverFresh
	affectCur, physioCur := 0, 0

	prevSegment := ""
	timeInSegment := 0

	for t := 0; t < durationSec; t++ {
		// Affect: mean of readings with floor(timestamp) == t, per dimension.
		sums := make(map[string]float64, len(affectDims))
		counts := make(map[string]int, len(affectDims))
		affectFresh := false
		for affectCur < len(affect) && affect[affectCur].TimestampSec < float64(t+1) {
			r := affect[affectCur]
			if r.TimestampSec >= float64(t) {
				affectFresh = true
				for dim, v := range r.Values {
					sums[dim] += v
					counts[dim]++
				}
			}
			affectCur++
		}
		if affectFresh {
			affectFreshAt = t
			for dim := range affectDims {
				if counts[dim] > 0 {
					lastAffect[dim] = sums[dim] / float64(counts[dim])
				}
			}
		}

		// Physio: last observation in or before this second carries forward.
		physioFresh := false
		for physioCur < len(physio) && physio[physioCur].TimestampSec < float64(t+1) {
			r := physio[physioCur]
			if r.TimestampSec >= float64(t) {
				physioFresh = true
			}
			for dim, v := range r.Values {
				lastPhysio[dim] = v
			}
			physioCur++
		}
		if physioFresh {
			physioFreshAt = t
		}

		values := make(map[string]float64, len(affectDims)+len(physioDims))
		for dim, v := range lastAffect {
			values[dim] = round4(v)
		}
		for dim, v := range lastPhysio {
			values[dim] = round4(v)
		}

		segment := discrete.SegmentAt(t)
		if segment == prevSegment {
			timeInSegment++
		} else {
			timeInSegment = 0
			prevSegment = segment
		}

		rows = append(rows, models.FusedRow{
			T:                 t,
			SegmentName:       segment,
			TimeInSegmentSec:  timeInSegment,
			DimensionValues:   values,
			DominantDimension: dominantDimension(lastAffect),
			DataQuality:       quality(t, affectFresh, physioFresh, affectFreshAt, physioFreshAt),
		})
	}

	return rows
}

// quality classifies a row by how fresh each stream's contribution is. Full
// needs both streams fresh this second; missing needs both streams to have
// gone silent for more than the stale threshold. Everything else, including
// streams that never produced a reading at all, is partial.
func quality(t int, affectFresh, physioFresh bool, affectFreshAt, physioFreshAt int) models.DataQuality {
	if affectFresh && physioFresh {
		return models.QualityFull
	}
	affectStale := affectFreshAt != neverFresh && t-affectFreshAt > staleThresholdSec
	physioStale := physioFreshAt != neverFresh && t-physioFreshAt > staleThresholdSec
	if affectStale && physioStale {
		return models.QualityMissing
	}
	return models.QualityPartial
}

// dominantDimension returns the affect dimension with the highest current
// value, excluding the neutral baseline. All-zero values yield the sentinel
// segment label, matching an expressionless or absent face.
func dominantDimension(affect map[string]float64) string {
	best := ""
	bestVal := 0.0
	for dim, v := range affect {
		if dim == models.BaselineDimension {
			continue
		}
		if v > bestVal || (v == bestVal && v > 0 && (best == "" || dim < best)) {
			best = dim
			bestVal = v
		}
	}
	if best == "" {
		return models.SentinelSegment
	}
	return best
}

// collectDimensions gathers the set of dimensions a stream ever reports, so
// every row carries the same keys from t=0 onward.
func collectDimensions(readings []models.SensorReading) map[string]struct{} {
	dims := make(map[string]struct{})
	for _, r := range readings {
		for dim := range r.Values {
			dims[dim] = struct{}{}
		}
	}
	return dims
}

func zeroValues(dims map[string]struct{}) map[string]float64 {
	values := make(map[string]float64, len(dims))
	for dim := range dims {
		values[dim] = 0.0
	}
	return values
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
