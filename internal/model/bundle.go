package model

import (
	"encoding/json"
	"fmt"
)

// BundleVersion is the current artifact format version.
const BundleVersion = 1

// Bundle is the serialized form of a trained detector: scaler, estimator,
// and the frozen feature schema travel as one unit so a loaded model can
// never mix components from different training runs.
type Bundle struct {
	Version      int      `json:"version"`
	ModelType    string   `json:"model_type"`
	FeatureNames []string `json:"feature_names"`
	Scaler       *Scaler  `json:"scaler"`
	Forest       *Forest  `json:"forest"`
}

// Bundle exports the trained state. Fails with ErrNotTrained on an
// untrained detector.
func (d *Detector) Bundle() (*Bundle, error) {
	if !d.trained {
		return nil, ErrNotTrained
	}
	return &Bundle{
		Version:      BundleVersion,
		ModelType:    ModelType,
		FeatureNames: d.featureNames,
		Scaler:       d.scaler,
		Forest:       d.forest,
	}, nil
}

// Restore replaces the detector's state with the bundle's contents and
// marks it trained. The caller validates the bundle came from Load.
func (d *Detector) Restore(b *Bundle) error {
	if b.Scaler == nil || b.Forest == nil || len(b.FeatureNames) == 0 {
		return fmt.Errorf("model: incomplete bundle")
	}
	if b.ModelType != ModelType {
		return fmt.Errorf("model: unsupported model type %q", b.ModelType)
	}

	d.scaler = b.Scaler
	d.forest = b.Forest
	d.featureNames = b.FeatureNames
	d.trained = true
	return nil
}

// Marshal encodes a bundle for storage.
func (b *Bundle) Marshal() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return data, nil
}

// UnmarshalBundle decodes a stored bundle.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("model: unsupported bundle version %d", b.Version)
	}
	return &b, nil
}
