package model

import (
	"sync"
	"sync/atomic"

	"cloudsentinel/internal/schema"
)

// Slot holds the single active detector. Readers take a stable snapshot
// without locking; Swap installs a fully trained replacement atomically so
// in-flight predictions keep running against the previous model while a
// new one is being fit.
type Slot struct {
	active atomic.Pointer[Detector]

	// swapMu serializes writers; only one training/activation runs at a time.
	swapMu sync.Mutex
}

// NewSlot creates a slot serving the given detector. Pass an untrained
// detector to start in the conservative degraded mode.
func NewSlot(det *Detector) *Slot {
	s := &Slot{}
	if det == nil {
		det = NewDetector()
	}
	s.active.Store(det)
	return s
}

// Active returns the current detector snapshot. The returned instance is
// never mutated after activation and is safe to use for prediction.
func (s *Slot) Active() *Detector {
	return s.active.Load()
}

// Predict runs the current active detector against the event.
func (s *Slot) Predict(ev *schema.Event) (bool, float64) {
	return s.Active().Predict(ev)
}

// Swap atomically installs det as the active detector and returns the
// superseded one. Exactly one detector is active before and after.
func (s *Slot) Swap(det *Detector) *Detector {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	return s.active.Swap(det)
}
