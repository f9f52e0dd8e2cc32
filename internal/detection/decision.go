package detection

import (
	"fmt"
	"sort"
	"strings"
)

const maxTopCandidates = 5

// Engine turns the two raw model outputs into a single verdict through
// a fixed sequence of threshold checks. Thresholds compare fractional
// confidences; everything surfaced to callers is a percentage.
type Engine struct {
	PrimaryThreshold   float64
	SecondaryThreshold float64
	NegativeThreshold  float64
	NegativeLabels     []string
}

// Decide applies the checks in order and stops at the first failing
// one. Rejections are expected outcomes and carry their specific
// reason.
func (e Engine) Decide(primary, secondary *PredictionSet) Outcome {
	top, ok := primary.Top()
	if !ok {
		return rejected(ReasonNoPrimaryPrediction, "the primary model returned no predictions")
	}

	if e.isNegativeClass(top.Class) && top.Confidence > e.NegativeThreshold {
		out := rejected(ReasonNegativeClassDetected,
			fmt.Sprintf("the image does not appear to contain the expected subject (%.2f%% confident)", Percent(top.Confidence)))
		out.Confidence = Percent(top.Confidence)
		return out
	}

	if !e.isNegativeClass(top.Class) && top.Confidence < e.PrimaryThreshold {
		return rejected(ReasonLowPrimaryConfidence, "the primary model is not confident enough in this image")
	}

	secondaryTop, ok := secondary.Top()
	if !ok {
		return rejected(ReasonNoSecondaryPrediction, "the secondary model returned no predictions")
	}

	if secondaryTop.Confidence < e.SecondaryThreshold {
		return rejected(ReasonLowSecondaryConfidence, "the secondary model is not confident enough in this image")
	}

	out := Outcome{
		Status:     StatusAccepted,
		Confidence: Percent(secondaryTop.Confidence),
		Result: &AcceptedResult{
			PrimaryClass:        top.Class,
			PrimaryConfidence:   Percent(top.Confidence),
			SecondaryClass:      secondaryTop.Class,
			SecondaryConfidence: Percent(secondaryTop.Confidence),
			Box: BoundingBox{
				X:      secondaryTop.X,
				Y:      secondaryTop.Y,
				Width:  secondaryTop.Width,
				Height: secondaryTop.Height,
			},
			TopCandidates: topCandidates(secondary.Predictions),
		},
	}
	return out
}

// isNegativeClass reports whether a label indicates the subject is not
// the expected domain object. The substring check intentionally
// matches any label containing "not"; configured spellings are matched
// exactly.
func (e Engine) isNegativeClass(class string) bool {
	lowered := strings.ToLower(class)
	if strings.Contains(lowered, "not") {
		return true
	}
	for _, label := range e.NegativeLabels {
		if lowered == strings.ToLower(label) {
			return true
		}
	}
	return false
}

// topCandidates ranks predictions by confidence, original order
// breaking ties, and keeps at most five.
func topCandidates(predictions []Prediction) []Candidate {
	ranked := make([]Prediction, len(predictions))
	copy(ranked, predictions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > maxTopCandidates {
		ranked = ranked[:maxTopCandidates]
	}
	candidates := make([]Candidate, 0, len(ranked))
	for _, p := range ranked {
		candidates = append(candidates, Candidate{Class: p.Class, Confidence: Percent(p.Confidence)})
	}
	return candidates
}
