package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fragility/internal/fileutil"
)

// File suffixes of a saved artifact.
const (
	BundleExt  = ".npz"
	SidecarExt = ".json"
)

// Paths locates the two files of a saved artifact.
type Paths struct {
	Bundle  string
	Sidecar string
}

// PathsFor returns the bundle and sidecar paths for base (a path without
// extension).
func PathsFor(base string) Paths {
	return Paths{Bundle: base + BundleExt, Sidecar: base + SidecarExt}
}

// Save writes the bundle first and the sidecar second, each atomically, so a
// readable sidecar implies a complete bundle.
func Save(a *Artifact, base string) (Paths, error) {
	if err := a.Validate(); err != nil {
		return Paths{}, err
	}
	paths := PathsFor(base)
	if err := fileutil.WriteAtomic(paths.Bundle, 0o644, func(w io.Writer) error {
		return a.encode(w)
	}); err != nil {
		return Paths{}, fmt.Errorf("write bundle: %w", err)
	}
	payload, err := json.MarshalIndent(a.Metadata, "", "  ")
	if err != nil {
		return Paths{}, fmt.Errorf("encode sidecar: %w", err)
	}
	if err := fileutil.WriteFileAtomic(paths.Sidecar, append(payload, '\n'), 0o644); err != nil {
		return Paths{}, fmt.Errorf("write sidecar: %w", err)
	}
	return paths, nil
}

// ReadMetadata reads only the sidecar.
func ReadMetadata(path string) (Metadata, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode sidecar %s: %w", filepath.Base(path), err)
	}
	if meta.FormatVersion != FormatVersion {
		return Metadata{}, fmt.Errorf("sidecar %s: unsupported format version %d", filepath.Base(path), meta.FormatVersion)
	}
	return meta, nil
}

// Load reads an artifact from either of its two paths and validates that
// every array's leading dimension matches the channel names.
func Load(path string) (*Artifact, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(path, SidecarExt), BundleExt)
	paths := PathsFor(base)
	meta, err := ReadMetadata(paths.Sidecar)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(paths.Bundle)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	art, err := decode(meta, f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(paths.Bundle), err)
	}
	return art, nil
}
