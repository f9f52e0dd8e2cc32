package detection

// Prediction is one candidate label returned by an inference model.
// Confidence is fractional, in [0,1]. The box coordinates are model
// pixel space, centered on (X, Y).
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// PredictionSet is the full response of a single inference call.
type PredictionSet struct {
	Predictions []Prediction
	ImageWidth  int
	ImageHeight int
}

// Top returns the highest-confidence prediction, ties broken by first
// occurrence. The second return is false when the set is empty.
func (s *PredictionSet) Top() (Prediction, bool) {
	if s == nil || len(s.Predictions) == 0 {
		return Prediction{}, false
	}
	best := s.Predictions[0]
	for _, p := range s.Predictions[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}

// Endpoint identifies one remote inference model.
type Endpoint struct {
	URL    string
	APIKey string
}

// Request is one detection attempt entering the pipeline.
type Request struct {
	RequestID          string
	SourceID           string
	Image              []byte
	PrimaryThreshold   *float64
	SecondaryThreshold *float64
}
