package detection

import "math"

// Status tags the variant of an Outcome.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Reason identifies why the decision engine rejected a request.
// Rejections are business outcomes, not faults, and are always safe to
// show to callers.
type Reason string

const (
	ReasonNoPrimaryPrediction    Reason = "no_primary_prediction"
	ReasonNegativeClassDetected  Reason = "negative_class_detected"
	ReasonLowPrimaryConfidence   Reason = "low_primary_confidence"
	ReasonNoSecondaryPrediction  Reason = "no_secondary_prediction"
	ReasonLowSecondaryConfidence Reason = "low_secondary_confidence"
)

// BoundingBox locates a detection within the analyzed image.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Candidate is one ranked secondary prediction, confidence expressed
// as a percentage rounded to two decimals.
type Candidate struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// AcceptedResult carries the verdict details when both models clear
// their thresholds. Confidences are percentages rounded to two
// decimals.
type AcceptedResult struct {
	PrimaryClass        string      `json:"primary_class"`
	PrimaryConfidence   float64     `json:"primary_confidence"`
	SecondaryClass      string      `json:"secondary_class"`
	SecondaryConfidence float64     `json:"secondary_confidence"`
	Box                 BoundingBox `json:"bounding_box"`
	TopCandidates       []Candidate `json:"top_candidates"`
	ProcessingTimeMs    int64       `json:"processing_time_ms"`
}

// Outcome is the single result every request produces: exactly one of
// accepted, rejected, or failed.
type Outcome struct {
	Status     Status
	Reason     Reason
	Kind       Kind
	Message    string
	Confidence float64
	Result     *AcceptedResult
}

func rejected(reason Reason, message string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Message: message}
}

func failed(err error) Outcome {
	kind := KindOf(err)
	return Outcome{Status: StatusFailed, Kind: kind, Message: UserMessage(kind)}
}

// Percent converts a fractional confidence to a percentage rounded to
// two decimal places.
func Percent(confidence float64) float64 {
	return math.Round(confidence*10000) / 100
}
