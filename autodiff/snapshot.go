package autodiff

import (
	"crypto/sha256"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/vadiff/cfg"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("autodiff: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is a copy of a registry's contents in handle order.
type Snapshot struct {
	FirstOrder  []SnapshotEntry       `cbor:"1,keyasint"`
	HigherOrder []NthOrderUnknownInfo `cbor:"2,keyasint,omitempty"`
}

// SnapshotEntry is one first-order unknown.
type SnapshotEntry struct {
	Kind         cfg.CallbackKind `cbor:"1,keyasint"`
	Hi           uint32           `cbor:"2,keyasint"`
	Lo           uint32           `cbor:"3,keyasint"`
	Coefficients []Coefficient    `cbor:"4,keyasint,omitempty"`
}

// Callback returns the callback the entry was registered for.
func (e SnapshotEntry) Callback() cfg.Callback {
	return cfg.Callback{Kind: e.Kind, Hi: e.Hi, Lo: e.Lo}
}

// Snapshot copies the current state of the registry.
func (r *Unknowns) Snapshot() *Snapshot {
	s := &Snapshot{
		FirstOrder:  make([]SnapshotEntry, len(r.callbacks)),
		HigherOrder: slices.Clone(r.higher),
	}
	for i, cb := range r.callbacks {
		s.FirstOrder[i] = SnapshotEntry{
			Kind:         cb.Kind,
			Hi:           cb.Hi,
			Lo:           cb.Lo,
			Coefficients: slices.Clone(r.coefficients[i]),
		}
	}
	return s
}

// Fingerprint is the SHA-256 of the canonical encoding of s. Two
// compilations that materialized the same unknowns in the same order share
// a fingerprint.
func (s *Snapshot) Fingerprint() ([32]byte, error) {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("autodiff: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
