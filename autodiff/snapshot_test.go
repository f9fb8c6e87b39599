package autodiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/vadiff/cfg"
)

func sampleRegistry() *Unknowns {
	r := New([]FirstOrderEntry{
		{Callback: cfg.Voltage(1, 0), Coefficients: []Coefficient{NewCoefficient(2, 0.5)}},
		{Callback: cfg.PortConnectedCallback(3)},
	})
	r.RaiseOrder(r.RaiseOrder(0, 1), 0)
	return r
}

func TestSnapshot_CopiesRegistry(t *testing.T) {
	r := sampleRegistry()
	s := r.Snapshot()

	require.Len(t, s.FirstOrder, 2)
	assert.Equal(t, cfg.Voltage(1, 0), s.FirstOrder[0].Callback())
	assert.Equal(t, cfg.PortConnectedCallback(3), s.FirstOrder[1].Callback())
	assert.Equal(t, []Coefficient{NewCoefficient(2, 0.5)}, s.FirstOrder[0].Coefficients)
	assert.Nil(t, s.FirstOrder[1].Coefficients)
	assert.Len(t, s.HigherOrder, r.NumHigherOrder())

	r.RaiseOrder(1, 1)
	assert.Len(t, s.HigherOrder, r.NumHigherOrder()-1, "snapshot is detached from the registry")
}

func TestSnapshot_CBORRoundTrip(t *testing.T) {
	s := sampleRegistry().Snapshot()

	data, err := MarshalSnapshot(s)
	require.NoError(t, err)

	got, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSnapshot_FingerprintIsDeterministic(t *testing.T) {
	a, err := sampleRegistry().Snapshot().Fingerprint()
	require.NoError(t, err)
	b, err := sampleRegistry().Snapshot().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	r := sampleRegistry()
	r.RaiseOrder(1, 1)
	c, err := r.Snapshot().Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestUnmarshalSnapshot_Garbage(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte{0xff, 0x00})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autodiff: unmarshal snapshot")
}
