package manifest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chazu/vadiff/autodiff"
)

// LockFile records the registry a model produced the last time it was
// built, so that a change in the set or order of materialized unknowns can
// be detected.
type LockFile struct {
	Project     string `toml:"project"`
	Fingerprint string `toml:"fingerprint"`
	FirstOrder  int    `toml:"first-order"`
	HigherOrder int    `toml:"higher-order"`
}

// NewLock describes the current state of r.
func NewLock(project string, r *autodiff.Unknowns) (*LockFile, error) {
	fp, err := r.Snapshot().Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting registry: %w", err)
	}
	return &LockFile{
		Project:     project,
		Fingerprint: hex.EncodeToString(fp[:]),
		FirstOrder:  r.NumFirstOrder(),
		HigherOrder: r.NumHigherOrder(),
	}, nil
}

// Matches reports whether two lock files describe the same registry.
func (lf *LockFile) Matches(other *LockFile) bool {
	return other != nil &&
		lf.Fingerprint == other.Fingerprint &&
		lf.FirstOrder == other.FirstOrder &&
		lf.HigherOrder == other.HigherOrder
}

// ReadLock reads a lock file. A missing file yields nil, nil.
func ReadLock(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var lf LockFile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &lf, nil
}

// WriteLock writes lf to path.
func WriteLock(path string, lf *LockFile) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(lf); err != nil {
		return fmt.Errorf("encoding lock file: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
