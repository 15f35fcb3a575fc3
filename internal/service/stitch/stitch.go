// Package stitch merges asynchronously-produced chunk observations into one
// continuous, deduplicated, time-ordered discrete timeline of
// segment-occupancy intervals and point events.
//
// Chunks arrive in processing-completion order, which need not equal window
// order: slower windows may complete after faster later ones. Stitching
// therefore sorts by window start before merging, so the result never depends
// on upstream scheduling.
package stitch

import (
	"math"
	"sort"

	"playtest-telemetry-service/internal/models"
)

// confidenceFloor is the minimum confidence for a claim to displace another
// chunk's claim over the same span. Lower-confidence claims still apply when
// nothing else covers the span.
const confidenceFloor = 0.5

// claim is one candidate segment interval derived from a chunk's state
// observations, in absolute session seconds.
type claim struct {
	segment     string
	startSec    float64
	endSec      float64
	confidence  float64
	windowStart float64
}

// Stitch merges chunk observations into a discrete timeline covering
// [0, durationSec). When durationSec <= 0 it is derived from the latest
// window end. Where two chunks claim overlapping spans, the later-starting
// chunk wins (batches with more context are more accurate), unless its
// confidence falls below the floor and another chunk covers the span.
// Residual gaps are filled by extending the preceding interval's segment
// forward; a leading gap is back-filled from the first claim.
//
// Zero chunks yield a single interval spanning the whole session labeled
// with the sentinel segment: a data-quality problem, not an error.
func Stitch(chunks []models.ChunkObservation, durationSec int) models.DiscreteTimeline {
	if durationSec <= 0 {
		for _, c := range chunks {
			if end := int(math.Ceil(c.WindowEndSec)); end > durationSec {
				durationSec = end
			}
		}
	}
	if durationSec <= 0 {
		return models.DiscreteTimeline{}
	}

	events := dedupEvents(chunks)

	if len(chunks) == 0 {
		return models.DiscreteTimeline{
			Intervals: []models.SegmentInterval{
				{SegmentName: models.SentinelSegment, StartSec: 0, EndSec: durationSec},
			},
			Events: events,
		}
	}

	claims := expandClaims(chunks)

	// Resolve one segment label per second, then run-length encode. Empty
	// labels mark spans no chunk claimed.
	labels := make([]string, durationSec)
	for t := 0; t < durationSec; t++ {
		labels[t] = resolveSecond(claims, float64(t))
	}
	fillGaps(labels)

	return models.DiscreteTimeline{
		Intervals: encodeIntervals(labels),
		Events:    events,
	}
}

// expandClaims converts each chunk's state observations into absolute-time
// candidate intervals. Within a chunk, an observation spans from its offset
// to the next observation's offset (or the window end), and adjacent
// observations of the same segment merge, keeping the higher confidence.
func expandClaims(chunks []models.ChunkObservation) []claim {
	sorted := make([]models.ChunkObservation, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].WindowStartSec < sorted[j].WindowStartSec
	})

	var claims []claim
	for _, c := range sorted {
		obs := make([]models.StateObservation, len(c.StatesObserved))
		copy(obs, c.StatesObserved)
		sort.SliceStable(obs, func(i, j int) bool {
			return obs[i].OffsetSec < obs[j].OffsetSec
		})

		for i, o := range obs {
			start := c.WindowStartSec + o.OffsetSec
			end := c.WindowEndSec
			if i+1 < len(obs) {
				end = c.WindowStartSec + obs[i+1].OffsetSec
			}
			if end <= start {
				continue
			}

			// Merge runs of the same segment within one chunk.
			if n := len(claims); n > 0 &&
				claims[n-1].windowStart == c.WindowStartSec &&
				claims[n-1].segment == o.SegmentName &&
				claims[n-1].endSec >= start {
				claims[n-1].endSec = end
				if o.Confidence > claims[n-1].confidence {
					claims[n-1].confidence = o.Confidence
				}
				continue
			}

			claims = append(claims, claim{
				segment:     o.SegmentName,
				startSec:    start,
				endSec:      end,
				confidence:  o.Confidence,
				windowStart: c.WindowStartSec,
			})
		}
	}
	return claims
}

// resolveSecond picks the winning segment for second t. Among claims covering
// t, the latest-starting window wins; claims below the confidence floor only
// win when no claim at or above the floor covers t.
func resolveSecond(claims []claim, t float64) string {
	var best, fallback *claim
	for i := range claims {
		c := &claims[i]
		if t < c.startSec || t >= c.endSec {
			continue
		}
		if c.confidence >= confidenceFloor {
			if best == nil || c.windowStart >= best.windowStart {
				best = c
			}
		}
		if fallback == nil || c.windowStart >= fallback.windowStart {
			fallback = c
		}
	}
	if best != nil {
		return best.segment
	}
	if fallback != nil {
		return fallback.segment
	}
	return ""
}

// fillGaps forward-fills unclaimed seconds from the preceding label. A
// leading gap is back-filled from the first claimed label; a fully unclaimed
// session falls back to the sentinel segment.
func fillGaps(labels []string) {
	first := ""
	for _, l := range labels {
		if l != "" {
			first = l
			break
		}
	}
	if first == "" {
		first = models.SentinelSegment
	}

	prev := first
	for t := range labels {
		if labels[t] == "" {
			labels[t] = prev
		} else {
			prev = labels[t]
		}
	}
}

// encodeIntervals run-length encodes per-second labels into contiguous,
// monotonically increasing intervals.
func encodeIntervals(labels []string) []models.SegmentInterval {
	var intervals []models.SegmentInterval
	for t, l := range labels {
		if n := len(intervals); n > 0 && intervals[n-1].SegmentName == l {
			intervals[n-1].EndSec = t + 1
			continue
		}
		intervals = append(intervals, models.SegmentInterval{
			SegmentName: l,
			StartSec:    t,
			EndSec:      t + 1,
		})
	}
	return intervals
}

// dedupEvents collects point events across chunks in arrival order and
// deduplicates by (label, rounded timestamp) to absorb near-duplicate
// reports from overlapping windows. The higher-severity instance wins; on
// equal severity the first-seen instance (earliest chunk completion) is
// kept.
func dedupEvents(chunks []models.ChunkObservation) []models.PointEvent {
	type key struct {
		label string
		sec   int
	}
	seen := make(map[key]models.PointEvent)
	order := make(map[key]int)
	next := 0

	for _, c := range chunks {
		for _, ev := range c.PointEvents {
			abs := c.WindowStartSec + ev.OffsetSec
			k := key{label: ev.Label, sec: int(math.Round(abs))}
			candidate := models.PointEvent{
				Label:        ev.Label,
				Severity:     ev.Severity,
				TimestampSec: abs,
			}
			existing, ok := seen[k]
			if !ok {
				seen[k] = candidate
				order[k] = next
				next++
				continue
			}
			if models.SeverityRank(candidate.Severity) > models.SeverityRank(existing.Severity) {
				seen[k] = candidate
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}

	type ordered struct {
		ev  models.PointEvent
		idx int
	}
	out := make([]ordered, 0, len(seen))
	for k, ev := range seen {
		out = append(out, ordered{ev: ev, idx: order[k]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ev.TimestampSec != out[j].ev.TimestampSec {
			return out[i].ev.TimestampSec < out[j].ev.TimestampSec
		}
		return out[i].idx < out[j].idx
	})

	events := make([]models.PointEvent, len(out))
	for i, o := range out {
		events[i] = o.ev
	}
	return events
}
