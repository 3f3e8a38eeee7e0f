package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore persists named model bundles. Save overwrites an existing
// artifact of the same name; Load returns ErrModelNotFound when no
// artifact exists under the name.
type ArtifactStore interface {
	Save(ctx context.Context, name string, bundle *Bundle) (string, error)
	Load(ctx context.Context, name string) (*Bundle, error)
}

// DirStore stores bundles as JSON files under a local directory.
type DirStore struct {
	dir string
}

// NewDirStore creates a directory-backed artifact store.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Save writes the bundle to <dir>/<name>.json, creating the directory if
// needed, and returns the artifact path. The write goes through a temp
// file and rename so a crash never leaves a half-written artifact.
func (s *DirStore) Save(_ context.Context, name string, bundle *Bundle) (string, error) {
	if err := validArtifactName(name); err != nil {
		return "", err
	}

	data, err := bundle.Marshal()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	path := filepath.Join(s.dir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}

	return path, nil
}

// Load reads a bundle from <dir>/<name>.json.
func (s *DirStore) Load(_ context.Context, name string) (*Bundle, error) {
	if err := validArtifactName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	return UnmarshalBundle(data)
}

// Exists reports whether a named artifact is present.
func (s *DirStore) Exists(name string) bool {
	if validArtifactName(name) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir, name+".json"))
	return err == nil
}

func validArtifactName(name string) error {
	if name == "" {
		return fmt.Errorf("model: artifact name is empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("model: invalid artifact name %q", name)
	}
	return nil
}
