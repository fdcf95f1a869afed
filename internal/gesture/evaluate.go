package gesture

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/features"
)

// ConfidenceSummary describes the confidences of holdout predictions, in percent.
type ConfidenceSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P10    float64 `json:"p10"`
	StdDev float64 `json:"stddev"`
}

// Evaluation is the result of a holdout evaluation.
type Evaluation struct {
	TrainSamples int                `json:"train_samples"`
	TestSamples  int                `json:"test_samples"`
	Accuracy     float64            `json:"accuracy"`
	PerClass     map[string]float64 `json:"per_class"`
	Confidence   ConfidenceSummary  `json:"confidence"`
}

// Evaluate trains on part of ds and measures accuracy on the rest. Each
// gesture contributes about holdout of its samples to the test set and
// keeps at least one for training. No artifact is written.
func (t *Trainer) Evaluate(ctx context.Context, ds *dataset.Dataset, holdout float64, seed int64) (*Evaluation, error) {
	if holdout <= 0 || holdout >= 1 {
		return nil, fmt.Errorf("holdout fraction must be in (0, 1), got %v", holdout)
	}
	if err := t.check(ds); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	var trainX, testX []features.Vector
	var trainY, testY []string
	for _, name := range ds.Names() {
		samples := ds.Samples(name)
		if len(samples) == 0 {
			continue
		}
		order := rng.Perm(len(samples))
		nTest := int(math.Round(holdout * float64(len(samples))))
		nTest = min(nTest, len(samples)-1)
		for i, idx := range order {
			if i < nTest {
				testX = append(testX, samples[idx])
				testY = append(testY, name)
			} else {
				trainX = append(trainX, samples[idx])
				trainY = append(trainY, name)
			}
		}
	}
	if len(testX) == 0 {
		return nil, fmt.Errorf("holdout %v leaves no test samples", holdout)
	}

	model, _, err := fitModel(ctx, trainX, trainY, ds.Strategy(), ds.Dimension(), t.Config, t.OnEpoch)
	if err != nil {
		return nil, &TrainingError{Reason: err}
	}

	eval := &Evaluation{
		TrainSamples: len(trainX),
		TestSamples:  len(testX),
		PerClass:     make(map[string]float64),
	}
	totals := make(map[string]int)
	hits := make(map[string]int)
	confidences := make(stats.Float64Data, 0, len(testX))
	correct := 0

	for i, v := range testX {
		pred, err := model.Predict(v)
		if err != nil {
			return nil, err
		}
		confidences = append(confidences, pred.Probability*100)
		totals[testY[i]]++
		if pred.Label == testY[i] {
			hits[testY[i]]++
			correct++
		}
	}

	eval.Accuracy = float64(correct) / float64(len(testX))
	for name, n := range totals {
		eval.PerClass[name] = float64(hits[name]) / float64(n)
	}
	eval.Confidence = summarize(confidences)
	return eval, nil
}

func summarize(data stats.Float64Data) ConfidenceSummary {
	var s ConfidenceSummary
	s.Mean, _ = stats.Mean(data)
	s.Median, _ = stats.Median(data)
	s.P10, _ = stats.Percentile(data, 10)
	s.StdDev, _ = stats.StandardDeviation(data)
	return s
}
