// Package review decides which processed notes need a human and records the
// reviewer's decisions.
package review

import (
	"fmt"

	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/model"
)

// Decide evaluates the catalog's intervention triggers against a result and
// its match. match may be nil, in which case the result's stored tier is used.
//
// Critical validation failures, a low tier and a missing destination record
// require intervention even when the catalog has no trigger for them.
func Decide(result *model.ProcessingResult, match *model.MatchResult, snap *catalog.Snapshot) (bool, []string) {
	in := facts{result: result, tier: result.MatchTier, confidence: -1}
	if match != nil {
		in.tier = match.Tier
		in.ambiguous = match.Ambiguous
		if match.IsMatched() {
			in.confidence = match.Confidence
		}
	}

	var reasons []string
	fired := make(map[catalog.TriggerKind]bool)
	if snap != nil {
		for _, trig := range snap.Triggers() {
			if in.fires(trig) {
				reasons = append(reasons, trig.Description)
				fired[trig.Kind] = true
			}
		}
	}

	if result.CriticalFailures > 0 && !fired[catalog.TriggerCriticalFailures] {
		reasons = append(reasons, fmt.Sprintf("%d critical validation checks failed", result.CriticalFailures))
	}
	if in.tier == model.TierLow && !fired[catalog.TriggerLowTier] {
		reasons = append(reasons, "Low-confidence patient match")
	}
	if in.tier == model.TierUnmatched && !fired[catalog.TriggerUnmatched] {
		reasons = append(reasons, "No destination record matched")
	}

	return len(reasons) > 0, reasons
}

type facts struct {
	result     *model.ProcessingResult
	tier       model.Tier
	confidence float64
	ambiguous  bool
}

func (f facts) fires(trig catalog.InterventionTrigger) bool {
	r := f.result
	switch trig.Kind {
	case catalog.TriggerLowTier:
		return f.tier == model.TierLow
	case catalog.TriggerUnmatched:
		return f.tier == model.TierUnmatched
	case catalog.TriggerAmbiguousMatch:
		return f.ambiguous
	case catalog.TriggerConfidenceBelow:
		return f.confidence >= 0 && f.confidence < trig.Threshold
	case catalog.TriggerCriticalFailures:
		return r.CriticalFailures > 0
	case catalog.TriggerFailureRatio:
		return r.TotalChecks > 0 && float64(r.FailedChecks)/float64(r.TotalChecks) > trig.Threshold
	case catalog.TriggerProcessingFailed:
		return r.ProcessingStatus == model.ProcessingFailed
	}
	return false
}
