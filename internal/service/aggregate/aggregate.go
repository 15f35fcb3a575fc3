// Package aggregate rolls verdicts up into session scores and cross-session
// project summaries. Both functions are pure and idempotent: they hold no
// state and can be re-derived at any time from persisted verdicts.
package aggregate

import (
	"math"
	"sort"

	"playtest-telemetry-service/internal/models"
)

// SessionScore collapses a session's verdicts into one number in [0,1]:
// passes count fully, warns count half, fails count nothing. An empty
// verdict set scores zero; finalize rejects such sessions before this is
// ever user-visible.
func SessionScore(sessionID string, verdicts []models.Verdict) models.SessionScore {
	score := models.SessionScore{SessionID: sessionID}
	for _, v := range verdicts {
		switch v.Outcome {
		case models.OutcomePass:
			score.PassCount++
		case models.OutcomeWarn:
			score.WarnCount++
		case models.OutcomeFail:
			score.FailCount++
		}
	}
	total := score.PassCount + score.WarnCount + score.FailCount
	if total > 0 {
		score.Score = round4((float64(score.PassCount) + 0.5*float64(score.WarnCount)) / float64(total))
	}
	return score
}

// SessionVerdicts pairs one session's verdicts with the spec snapshot it was
// scored against, so rollups read the target dimension that actually applied
// at finalize time.
type SessionVerdicts struct {
	SessionID string
	Verdicts  []models.Verdict
	Specs     []models.SegmentSpec
}

// ProjectAggregate groups verdicts by segment across all finalized sessions
// of a project, counts outcomes, and means the target-dimension average and
// deviation. Segments rank descending by fail count, then by mean deviation:
// a pain point ordering. The result is always a view over session-level
// data, never authoritative state.
func ProjectAggregate(projectID string, sessions []SessionVerdicts) models.ProjectAggregate {
	type acc struct {
		rollup    models.SegmentRollup
		targetSum float64
		devSum    float64
	}
	byName := make(map[string]*acc)
	var order []string

	for _, sess := range sessions {
		targetFor := make(map[string]string, len(sess.Specs))
		for _, s := range sess.Specs {
			targetFor[s.Name] = s.TargetDimension
		}
		for _, v := range sess.Verdicts {
			a, ok := byName[v.SegmentName]
			if !ok {
				a = &acc{rollup: models.SegmentRollup{SegmentName: v.SegmentName}}
				byName[v.SegmentName] = a
				order = append(order, v.SegmentName)
			}
			switch v.Outcome {
			case models.OutcomePass:
				a.rollup.PassCount++
			case models.OutcomeWarn:
				a.rollup.WarnCount++
			case models.OutcomeFail:
				a.rollup.FailCount++
			}
			a.rollup.Occurrences++
			a.targetSum += v.ObservedAvg[targetFor[v.SegmentName]]
			a.devSum += v.DeviationScore
		}
	}

	segments := make([]models.SegmentRollup, 0, len(byName))
	for _, name := range order {
		a := byName[name]
		if a.rollup.Occurrences > 0 {
			a.rollup.MeanTargetAvg = round4(a.targetSum / float64(a.rollup.Occurrences))
			a.rollup.MeanDeviation = round4(a.devSum / float64(a.rollup.Occurrences))
		}
		segments = append(segments, a.rollup)
	}

	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].FailCount != segments[j].FailCount {
			return segments[i].FailCount > segments[j].FailCount
		}
		if segments[i].MeanDeviation != segments[j].MeanDeviation {
			return segments[i].MeanDeviation > segments[j].MeanDeviation
		}
		return segments[i].SegmentName < segments[j].SegmentName
	})

	return models.ProjectAggregate{
		ProjectID: projectID,
		Sessions:  len(sessions),
		Segments:  segments,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
