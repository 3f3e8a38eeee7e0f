package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/schema"
)

// Meta is the persisted record of a trained model.
type Meta struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	ModelType     string     `json:"model_type"`
	SampleCount   int        `json:"sample_count"`
	FeatureCount  int        `json:"feature_count"`
	Contamination float64    `json:"contamination"`
	ArtifactPath  string     `json:"artifact_path"`
	IsActive      bool       `json:"is_active"`
	TrainedAt     time.Time  `json:"trained_at"`
	DeployedAt    *time.Time `json:"deployed_at,omitempty"`
}

// MetaStore persists model metadata. ActivateModel must deactivate every
// model and activate the named one as a single atomic operation, so the
// store never observes zero or multiple active models after it returns.
type MetaStore interface {
	SaveModelMeta(ctx context.Context, meta *Meta) error
	GetModelMeta(ctx context.Context, name string) (*Meta, error)
	ActivateModel(ctx context.Context, name string) error
	ActiveModelMeta(ctx context.Context) (*Meta, error)
	ListModels(ctx context.Context) ([]*Meta, error)
}

// Registry owns the model lifecycle: training with name-conflict rejection,
// artifact persistence, and atomic activation into the serving slot.
type Registry struct {
	slot      *Slot
	artifacts ArtifactStore
	metas     MetaStore
	logger    *slog.Logger
}

// NewRegistry creates a model registry serving through the given slot.
func NewRegistry(slot *Slot, artifacts ArtifactStore, metas MetaStore, logger *slog.Logger) *Registry {
	return &Registry{
		slot:      slot,
		artifacts: artifacts,
		metas:     metas,
		logger:    logger,
	}
}

// Slot returns the serving slot.
func (r *Registry) Slot() *Slot {
	return r.slot
}

// Train fits a new detector on the given events and persists it under name.
// A name conflict is rejected before any training work begins. The trained
// model is saved but not activated; call Activate to serve it.
func (r *Registry) Train(ctx context.Context, name string, events []*schema.Event, contamination float64) (TrainingInfo, error) {
	existing, err := r.metas.GetModelMeta(ctx, name)
	if err != nil && !errors.Is(err, ErrModelNotFound) {
		return TrainingInfo{}, fmt.Errorf("check model name: %w", err)
	}
	if existing != nil {
		return TrainingInfo{}, fmt.Errorf("%w: %s", ErrModelExists, name)
	}

	det := NewDetector()
	info, err := det.Train(events, contamination)
	if err != nil {
		return TrainingInfo{}, err
	}

	bundle, err := det.Bundle()
	if err != nil {
		return TrainingInfo{}, err
	}

	path, err := r.artifacts.Save(ctx, name, bundle)
	if err != nil {
		return TrainingInfo{}, fmt.Errorf("save artifact: %w", err)
	}

	meta := &Meta{
		ID:            uuid.New(),
		Name:          name,
		ModelType:     info.ModelType,
		SampleCount:   info.SampleCount,
		FeatureCount:  info.FeatureCount,
		Contamination: info.Contamination,
		ArtifactPath:  path,
		TrainedAt:     time.Now().UTC(),
	}
	if err := r.metas.SaveModelMeta(ctx, meta); err != nil {
		return TrainingInfo{}, fmt.Errorf("save model meta: %w", err)
	}

	r.logger.Info("model trained",
		"name", name,
		"samples", info.SampleCount,
		"features", info.FeatureCount,
		"contamination", info.Contamination,
	)

	return info, nil
}

// Activate loads the named artifact, marks it active in the store
// (deactivating any previously active model), and swaps it into the
// serving slot. In-flight predictions continue against the previous
// detector until the swap completes.
func (r *Registry) Activate(ctx context.Context, name string) error {
	bundle, err := r.artifacts.Load(ctx, name)
	if err != nil {
		return err
	}

	det := NewDetector()
	if err := det.Restore(bundle); err != nil {
		return err
	}

	if err := r.metas.ActivateModel(ctx, name); err != nil {
		return fmt.Errorf("activate model meta: %w", err)
	}

	r.slot.Swap(det)
	r.logger.Info("model activated", "name", name)
	return nil
}

// TrainAndActivate trains a new model and immediately serves it.
func (r *Registry) TrainAndActivate(ctx context.Context, name string, events []*schema.Event, contamination float64) (TrainingInfo, error) {
	info, err := r.Train(ctx, name, events, contamination)
	if err != nil {
		return TrainingInfo{}, err
	}
	if err := r.Activate(ctx, name); err != nil {
		return TrainingInfo{}, err
	}
	return info, nil
}

// LoadActive restores the store's active model into the slot, typically at
// startup. Returns ErrModelNotFound when no model has been activated yet;
// the slot keeps serving the conservative untrained default in that case.
func (r *Registry) LoadActive(ctx context.Context) error {
	meta, err := r.metas.ActiveModelMeta(ctx)
	if err != nil {
		return err
	}

	bundle, err := r.artifacts.Load(ctx, meta.Name)
	if err != nil {
		return err
	}

	det := NewDetector()
	if err := det.Restore(bundle); err != nil {
		return err
	}

	r.slot.Swap(det)
	r.logger.Info("active model loaded", "name", meta.Name, "trained_at", meta.TrainedAt)
	return nil
}
