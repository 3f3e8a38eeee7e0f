// Package model provides the trainable anomaly detector, its serialized
// artifact format, the active-model slot, and the model registry.
package model

import (
	"errors"
	"fmt"
	"math"

	"cloudsentinel/internal/features"
	"cloudsentinel/internal/schema"
)

var (
	// ErrNotTrained is returned when an operation requires a fitted model.
	ErrNotTrained = errors.New("model: not trained")

	// ErrNoTrainingData is returned when Train receives no events.
	ErrNoTrainingData = errors.New("model: no training data")

	// ErrModelNotFound is returned when a named artifact does not exist.
	ErrModelNotFound = errors.New("model: artifact not found")

	// ErrModelExists is returned when training under an already-used name.
	ErrModelExists = errors.New("model: name already exists")
)

// ModelType identifies the estimator family in a saved bundle.
const ModelType = "isolation_forest"

// TrainingInfo summarizes a completed training run.
type TrainingInfo struct {
	ModelType     string  `json:"model_type"`
	SampleCount   int     `json:"sample_count"`
	FeatureCount  int     `json:"feature_count"`
	Contamination float64 `json:"contamination"`
}

// Detector scores events for anomalies using a fitted scaler and
// isolation forest over the extracted feature matrix.
//
// A Detector is not safe for concurrent training and prediction against the
// same instance. Serve predictions from a Slot snapshot and swap in a newly
// trained instance atomically instead of mutating one in place.
type Detector struct {
	scaler       *Scaler
	forest       *Forest
	featureNames []string
	trained      bool

	forestCfg ForestConfig
}

// NewDetector creates an untrained detector with default hyperparameters.
func NewDetector() *Detector {
	return &Detector{forestCfg: DefaultForestConfig()}
}

// IsTrained reports whether the detector has a fitted estimator.
func (d *Detector) IsTrained() bool {
	return d.trained
}

// FeatureNames returns the feature schema frozen at training time,
// or nil if untrained.
func (d *Detector) FeatureNames() []string {
	return d.featureNames
}

// Train fits the scaler and estimator over the feature matrix extracted
// from the given events. After a successful return the feature schema is
// frozen to the training-time feature names.
func (d *Detector) Train(events []*schema.Event, contamination float64) (TrainingInfo, error) {
	if len(events) == 0 {
		return TrainingInfo{}, ErrNoTrainingData
	}

	names := make([]string, len(features.Names))
	copy(names, features.Names)

	rows := make([][]float64, len(events))
	for i, ev := range events {
		rows[i] = features.Extract(ev).Values(names)
	}

	scaler := &Scaler{}
	if err := scaler.Fit(rows); err != nil {
		return TrainingInfo{}, fmt.Errorf("fit scaler: %w", err)
	}

	forest, err := FitForest(scaler.TransformAll(rows), contamination, d.forestCfg)
	if err != nil {
		return TrainingInfo{}, fmt.Errorf("fit forest: %w", err)
	}

	d.scaler = scaler
	d.forest = forest
	d.featureNames = names
	d.trained = true

	return TrainingInfo{
		ModelType:     ModelType,
		SampleCount:   len(events),
		FeatureCount:  len(names),
		Contamination: contamination,
	}, nil
}

// Predict scores an event. An untrained detector returns the conservative
// default (false, 0.5) so the pipeline stays usable before any model exists.
// For a trained detector the raw isolation score is squashed into [0,1],
// higher meaning more anomalous.
func (d *Detector) Predict(ev *schema.Event) (bool, float64) {
	if !d.trained {
		return false, 0.5
	}

	row := d.scaler.Transform(features.Extract(ev).Values(d.featureNames))
	raw := d.forest.Score(row)

	return d.forest.Predict(row), squash(raw)
}

// squash maps the raw isolation score monotonically into [0,1].
func squash(raw float64) float64 {
	return 1.0 / (1.0 + math.Exp(-raw))
}
