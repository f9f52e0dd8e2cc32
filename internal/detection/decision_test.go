package detection

import "testing"

func testEngine() Engine {
	return Engine{
		PrimaryThreshold:   0.50,
		SecondaryThreshold: 0.50,
		NegativeThreshold:  0.70,
		NegativeLabels:     []string{"not calamansi", "non-calamansi"},
	}
}

func setOf(predictions ...Prediction) *PredictionSet {
	return &PredictionSet{Predictions: predictions}
}

func TestDecideRejectsEmptyPrimary(t *testing.T) {
	out := testEngine().Decide(setOf(), setOf(Prediction{Class: "leaf_spot", Confidence: 0.9}))
	if out.Status != StatusRejected || out.Reason != ReasonNoPrimaryPrediction {
		t.Fatalf("expected NoPrimaryPrediction, got %+v", out)
	}
}

func TestDecideRejectsNegativeClass(t *testing.T) {
	out := testEngine().Decide(
		setOf(Prediction{Class: "not calamansi", Confidence: 0.85}),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.9}),
	)
	if out.Status != StatusRejected || out.Reason != ReasonNegativeClassDetected {
		t.Fatalf("expected NegativeClassDetected, got %+v", out)
	}
	if out.Confidence != 85.00 {
		t.Fatalf("expected rejection to carry confidence 85.00, got %v", out.Confidence)
	}
}

func TestDecideNegativeClassNeedsHighConfidence(t *testing.T) {
	// A weak negative signal falls through to the primary threshold
	// check, which a negative label never passes as a positive match.
	out := testEngine().Decide(
		setOf(Prediction{Class: "not calamansi", Confidence: 0.60}),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.9}),
	)
	if out.Status != StatusAccepted {
		// The negative-class label skips the low-primary check, so the
		// flow proceeds to the secondary stage.
		t.Fatalf("expected acceptance for sub-threshold negative signal, got %+v", out)
	}
}

func TestDecideNegativeSubstringMatchesAnywhere(t *testing.T) {
	out := testEngine().Decide(
		setOf(Prediction{Class: "knotted_branch", Confidence: 0.95}),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.9}),
	)
	// Known behavior: any label containing "not" counts as negative.
	if out.Reason != ReasonNegativeClassDetected {
		t.Fatalf("expected substring negative match, got %+v", out)
	}
}

func TestDecideRejectsLowPrimaryConfidence(t *testing.T) {
	out := testEngine().Decide(
		setOf(Prediction{Class: "calamansi", Confidence: 0.40}),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.9}),
	)
	if out.Status != StatusRejected || out.Reason != ReasonLowPrimaryConfidence {
		t.Fatalf("expected LowPrimaryConfidence, got %+v", out)
	}
}

func TestDecideRejectsEmptySecondary(t *testing.T) {
	out := testEngine().Decide(
		setOf(Prediction{Class: "calamansi", Confidence: 0.90}),
		setOf(),
	)
	if out.Status != StatusRejected || out.Reason != ReasonNoSecondaryPrediction {
		t.Fatalf("expected NoSecondaryPrediction, got %+v", out)
	}
}

func TestDecideRejectsLowSecondaryConfidence(t *testing.T) {
	out := testEngine().Decide(
		setOf(Prediction{Class: "calamansi", Confidence: 0.90}),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.30}),
	)
	if out.Status != StatusRejected || out.Reason != ReasonLowSecondaryConfidence {
		t.Fatalf("expected LowSecondaryConfidence, got %+v", out)
	}
}

func TestDecideAcceptsAndRoundsPercentages(t *testing.T) {
	out := testEngine().Decide(
		setOf(Prediction{Class: "calamansi", Confidence: 0.90}),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.75, X: 1, Y: 2, Width: 3, Height: 4}),
	)
	if out.Status != StatusAccepted {
		t.Fatalf("expected acceptance, got %+v", out)
	}
	result := out.Result
	if result.SecondaryConfidence != 75.00 {
		t.Fatalf("expected secondary confidence 75.00, got %v", result.SecondaryConfidence)
	}
	if result.PrimaryConfidence != 90.00 {
		t.Fatalf("expected primary confidence 90.00, got %v", result.PrimaryConfidence)
	}
	box := BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}
	if result.Box != box {
		t.Fatalf("expected secondary bounding box %+v, got %+v", box, result.Box)
	}
	if result.PrimaryClass != "calamansi" || result.SecondaryClass != "leaf_spot" {
		t.Fatalf("unexpected classes: %+v", result)
	}
}

func TestDecideTieBreaksByFirstOccurrence(t *testing.T) {
	out := testEngine().Decide(
		setOf(
			Prediction{Class: "calamansi_a", Confidence: 0.80},
			Prediction{Class: "calamansi_b", Confidence: 0.80},
		),
		setOf(Prediction{Class: "leaf_spot", Confidence: 0.75}),
	)
	if out.Result.PrimaryClass != "calamansi_a" {
		t.Fatalf("tie not broken by first occurrence: %+v", out.Result)
	}
}

func TestDecideTopCandidatesCappedAndRanked(t *testing.T) {
	secondary := setOf(
		Prediction{Class: "a", Confidence: 0.51},
		Prediction{Class: "b", Confidence: 0.99},
		Prediction{Class: "c", Confidence: 0.75},
		Prediction{Class: "d", Confidence: 0.75},
		Prediction{Class: "e", Confidence: 0.60},
		Prediction{Class: "f", Confidence: 0.55},
		Prediction{Class: "g", Confidence: 0.52},
	)
	out := testEngine().Decide(setOf(Prediction{Class: "calamansi", Confidence: 0.90}), secondary)
	if out.Status != StatusAccepted {
		t.Fatalf("expected acceptance, got %+v", out)
	}

	candidates := out.Result.TopCandidates
	if len(candidates) != 5 {
		t.Fatalf("expected 5 candidates, got %d", len(candidates))
	}
	wantOrder := []string{"b", "c", "d", "e", "f"}
	for i, want := range wantOrder {
		if candidates[i].Class != want {
			t.Fatalf("candidate %d: expected %s, got %s", i, want, candidates[i].Class)
		}
	}
	if candidates[0].Confidence != 99.00 {
		t.Fatalf("candidate confidence not a rounded percentage: %v", candidates[0].Confidence)
	}
}

func TestPercentRounding(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.75, 75.00},
		{0.123456, 12.35},
		{0.999999, 100.00},
		{0, 0},
	}
	for _, tc := range cases {
		if got := Percent(tc.in); got != tc.want {
			t.Fatalf("Percent(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
