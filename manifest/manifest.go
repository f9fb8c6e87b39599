// Package manifest handles vadiff.toml model configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/vadiff/autodiff"
	"github.com/chazu/vadiff/cfg"
)

// FileName is the name of the manifest file looked up in a model directory.
const FileName = "vadiff.toml"

// Manifest represents a vadiff.toml model configuration.
type Manifest struct {
	Project   Project        `toml:"project"`
	Callbacks []CallbackDecl `toml:"callback"`
	Raises    []RaiseRequest `toml:"raise"`
	Output    Output         `toml:"output"`

	// Dir is the directory containing the vadiff.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains model metadata.
type Project struct {
	Name string `toml:"name"`
}

// CallbackDecl declares one quantity the model may be differentiated
// against, in the order handles are assigned.
type CallbackDecl struct {
	Kind         string            `toml:"kind"`
	Hi           uint32            `toml:"hi"`
	Lo           uint32            `toml:"lo"`
	Coefficients []CoefficientDecl `toml:"coefficients"`
}

// CoefficientDecl is a constant partial derivative of a parameter.
type CoefficientDecl struct {
	Param uint32  `toml:"param"`
	Value float64 `toml:"value"`
}

// RaiseRequest asks for Unknown differentiated once more by By.
type RaiseRequest struct {
	Unknown uint32 `toml:"unknown"`
	By      uint32 `toml:"by"`
}

// Output configures optional artifacts. Relative paths are resolved against
// the manifest directory.
type Output struct {
	Snapshot string `toml:"snapshot"`
	SQLite   string `toml:"sqlite"`
	Lock     string `toml:"lock"`
}

// Load parses and validates a vadiff.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	if err := validate(data); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Output.Lock == "" {
		m.Output.Lock = "vadiff.lock"
	}

	return &m, nil
}

// FindAndLoad loads the manifest of the nearest directory at or above
// startDir that has one. A nil manifest and nil error mean there is none.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Entries converts the callback declarations into registry entries.
func (m *Manifest) Entries() ([]autodiff.FirstOrderEntry, error) {
	entries := make([]autodiff.FirstOrderEntry, 0, len(m.Callbacks))
	for i, decl := range m.Callbacks {
		kind, ok := cfg.ParseCallbackKind(decl.Kind)
		if !ok {
			return nil, fmt.Errorf("callback[%d]: unknown kind %q", i, decl.Kind)
		}
		e := autodiff.FirstOrderEntry{
			Callback: cfg.Callback{Kind: kind, Hi: decl.Hi, Lo: decl.Lo},
		}
		if !e.Callback.Valid() {
			return nil, fmt.Errorf("callback[%d]: %s takes %d operand(s), got hi=%d lo=%d",
				i, decl.Kind, kind.Operands(), decl.Hi, decl.Lo)
		}
		for _, c := range decl.Coefficients {
			e.Coefficients = append(e.Coefficients, autodiff.NewCoefficient(cfg.Param(c.Param), c.Value))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Registry builds a registry from the callback declarations.
func (m *Manifest) Registry() (*autodiff.Unknowns, error) {
	entries, err := m.Entries()
	if err != nil {
		return nil, err
	}
	return autodiff.New(entries), nil
}

// Replay issues the raise requests against r in order and returns the
// handle produced by each. Requests may refer to handles produced by earlier
// requests. A request naming a handle r does not hold is reported instead of
// being passed on.
func (m *Manifest) Replay(r *autodiff.Unknowns) ([]autodiff.Unknown, error) {
	results := make([]autodiff.Unknown, 0, len(m.Raises))
	for i, req := range m.Raises {
		if int(req.Unknown) >= r.Len() {
			return results, fmt.Errorf("raise[%d]: unknown %d does not exist (%d unknowns so far)", i, req.Unknown, r.Len())
		}
		if int(req.By) >= r.NumFirstOrder() {
			return results, fmt.Errorf("raise[%d]: %d is not a first-order unknown (%d declared)", i, req.By, r.NumFirstOrder())
		}
		results = append(results, r.RaiseOrder(autodiff.Unknown(req.Unknown), autodiff.FirstOrderUnknown(req.By)))
	}
	return results, nil
}

// Path resolves an output path relative to the manifest directory. An
// empty path stays empty.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
