package model

import (
	"context"
	"errors"
	"testing"
)

func trainedBundle(t *testing.T) *Bundle {
	t.Helper()
	d := NewDetector()
	if _, err := d.Train(trainingEvents(100), 0.1); err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	b, err := d.Bundle()
	if err != nil {
		t.Fatalf("Bundle() error: %v", err)
	}
	return b
}

func TestDirStore_SaveLoad(t *testing.T) {
	store := NewDirStore(t.TempDir())
	ctx := context.Background()

	path, err := store.Save(ctx, "baseline-v1", trainedBundle(t))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if path == "" {
		t.Error("Save() returned empty path")
	}
	if !store.Exists("baseline-v1") {
		t.Error("Exists() = false after save")
	}

	loaded, err := store.Load(ctx, "baseline-v1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded.FeatureNames) == 0 {
		t.Error("loaded bundle has empty feature schema")
	}
}

func TestDirStore_LoadMissing(t *testing.T) {
	store := NewDirStore(t.TempDir())
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Load() error = %v, want ErrModelNotFound", err)
	}
}

func TestDirStore_RejectsTraversalNames(t *testing.T) {
	store := NewDirStore(t.TempDir())
	for _, name := range []string{"", "../evil", "a/b", `a\b`} {
		if _, err := store.Save(context.Background(), name, trainedBundle(t)); err == nil {
			t.Errorf("Save(%q) accepted invalid name", name)
		}
	}
}

func TestSlot_Swap(t *testing.T) {
	first := NewDetector()
	slot := NewSlot(first)

	if slot.Active() != first {
		t.Fatal("slot does not serve initial detector")
	}

	second := NewDetector()
	if _, err := second.Train(trainingEvents(50), 0.1); err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	superseded := slot.Swap(second)
	if superseded != first {
		t.Error("Swap did not return the superseded detector")
	}
	if slot.Active() != second {
		t.Error("slot does not serve the swapped-in detector")
	}
}
