package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/vadiff/autodiff"
	"github.com/chazu/vadiff/cfg"
)

const diodeManifest = `
[project]
name = "diode"

[[callback]]
kind = "voltage"
hi = 1
lo = 0
coefficients = [{ param = 0, value = 1.0 }, { param = 2, value = -0.5 }]

[[callback]]
kind = "current"
hi = 3

[[callback]]
kind = "temperature"

[[raise]]
unknown = 0
by = 1

[[raise]]
unknown = 3
by = 2

[[raise]]
unknown = 0
by = 1

[output]
snapshot = "out/diode.cbor"
sqlite = "/tmp/diode.db"
`

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, diodeManifest)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "diode", m.Project.Name)
	require.Len(t, m.Callbacks, 3)
	assert.Equal(t, "voltage", m.Callbacks[0].Kind)
	assert.Equal(t, uint32(1), m.Callbacks[0].Hi)
	assert.Equal(t, []CoefficientDecl{{Param: 0, Value: 1.0}, {Param: 2, Value: -0.5}}, m.Callbacks[0].Coefficients)
	assert.Equal(t, "temperature", m.Callbacks[2].Kind)
	assert.Equal(t, []RaiseRequest{{0, 1}, {3, 2}, {0, 1}}, m.Raises)

	assert.Equal(t, filepath.Join(m.Dir, "out/diode.cbor"), m.Path(m.Output.Snapshot))
	assert.Equal(t, "/tmp/diode.db", m.Path(m.Output.SQLite))
	assert.Equal(t, "", m.Path(""))
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "vadiff.lock", m.Output.Lock)
	assert.Empty(t, m.Callbacks)
	assert.Empty(t, m.Raises)
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing project", `
[[callback]]
kind = "temperature"
`},
		{"empty name", `
[project]
name = ""
`},
		{"bad kind", `
[project]
name = "x"

[[callback]]
kind = "charge"
`},
		{"negative node", `
[project]
name = "x"

[[callback]]
kind = "voltage"
hi = -1
`},
		{"unknown key", `
[project]
name = "x"

[[callback]]
kind = "voltage"
high = 1
`},
		{"temperature with operand", `
[project]
name = "x"

[[callback]]
kind = "temperature"
hi = 5
`},
		{"current with lo", `
[project]
name = "x"

[[callback]]
kind = "current"
hi = 1
lo = 7
`},
		{"raise missing by", `
[project]
name = "x"

[[raise]]
unknown = 0
`},
		{"not toml", `[project`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)

			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(subDir, 0755))
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "found-project", m.Project.Name)
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m, "expected nil manifest when no vadiff.toml exists")
}

func TestManifest_RegistryAndReplay(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, diodeManifest)
	m, err := Load(dir)
	require.NoError(t, err)

	r, err := m.Registry()
	require.NoError(t, err)
	require.Equal(t, 3, r.NumFirstOrder())

	f, ok := r.CallbackUnknown(cfg.Voltage(1, 0))
	require.True(t, ok)
	assert.Equal(t, -0.5, r.ParamDerivative(2, f))
	assert.Equal(t, 0.0, r.ParamDerivative(1, f))

	got, err := m.Replay(r)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, autodiff.Unknown(3), got[0])
	assert.Equal(t, 3, r.Order(got[1]))
	assert.Equal(t, got[0], got[2], "repeated request is deduplicated")
	assert.Equal(t, 3, r.NumHigherOrder())
}

func TestManifest_ReplayRejectsForeignHandles(t *testing.T) {
	m := &Manifest{
		Callbacks: []CallbackDecl{{Kind: "temperature"}},
		Raises:    []RaiseRequest{{Unknown: 0, By: 0}, {Unknown: 5, By: 0}},
	}
	r, err := m.Registry()
	require.NoError(t, err)

	got, err := m.Replay(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raise[1]")
	assert.Len(t, got, 1, "requests before the bad one were applied")

	m.Raises = []RaiseRequest{{Unknown: 0, By: 1}}
	_, err = m.Replay(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a first-order unknown")
}

func TestManifest_EntriesUnknownKind(t *testing.T) {
	m := &Manifest{Callbacks: []CallbackDecl{{Kind: "charge"}}}
	_, err := m.Entries()
	assert.Error(t, err)
}

func TestManifest_EntriesRejectUnusedOperands(t *testing.T) {
	tests := []CallbackDecl{
		{Kind: "temperature", Hi: 5},
		{Kind: "current", Hi: 1, Lo: 7},
		{Kind: "flow", Lo: 2},
	}
	for _, decl := range tests {
		t.Run(decl.Kind, func(t *testing.T) {
			m := &Manifest{Callbacks: []CallbackDecl{decl}}
			_, err := m.Entries()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "callback[0]")
		})
	}
}

func TestLoadManifestZeroOperandsMatchConstructors(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "x"

[[callback]]
kind = "temperature"
hi = 0

[[callback]]
kind = "current"
hi = 1
lo = 0
`)
	m, err := Load(dir)
	require.NoError(t, err)
	r, err := m.Registry()
	require.NoError(t, err)

	f, ok := r.CallbackUnknown(cfg.TemperatureCallback())
	require.True(t, ok)
	assert.Equal(t, autodiff.FirstOrderUnknown(0), f)
	f, ok = r.CallbackUnknown(cfg.Current(1))
	require.True(t, ok)
	assert.Equal(t, autodiff.FirstOrderUnknown(1), f)
}
