package autodiff

import (
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/vadiff/cfg"
)

// logger is looked up when a registry is created so that a backend
// configured by the binary after package initialization is honored.
func logger() commonlog.Logger {
	return commonlog.GetLogger("vadiff.autodiff")
}

// scratchCapacity is the initial size of the chain buffer used by
// RaiseOrder. Derivatives beyond eighth order are rare in device models.
const scratchCapacity = 8

// Unknown is a flat handle to any differentiation variable. Values below the
// first-order count are first-order unknowns; the remaining values address
// the higher-order store. An Unknown is only meaningful for the registry
// that produced it.
type Unknown uint32

func (u Unknown) String() string {
	return fmt.Sprintf("unknown{%d}", uint32(u))
}

// FirstOrderUnknown names one external differentiation variable. Its value
// is the insertion index of its callback.
type FirstOrderUnknown uint32

// Unknown widens f to a flat handle with the same value.
func (f FirstOrderUnknown) Unknown() Unknown {
	return Unknown(f)
}

func (f FirstOrderUnknown) String() string {
	return fmt.Sprintf("first_order{%d}", uint32(f))
}

// nthOrderUnknown indexes the higher-order store directly.
type nthOrderUnknown uint32

// NthOrderUnknownInfo is a chain node: PreviousOrder differentiated once more
// by Base. Nodes are interned, so equal nodes share one Unknown.
type NthOrderUnknownInfo struct {
	PreviousOrder Unknown           `cbor:"1,keyasint"`
	Base          FirstOrderUnknown `cbor:"2,keyasint"`
}

// Coefficient is the partial derivative of Param with respect to a
// first-order unknown, stored as its IEEE-754 bit pattern.
type Coefficient struct {
	Param cfg.Param `cbor:"1,keyasint"`
	Bits  uint64    `cbor:"2,keyasint"`
}

// NewCoefficient encodes value for param.
func NewCoefficient(param cfg.Param, value float64) Coefficient {
	return Coefficient{Param: param, Bits: math.Float64bits(value)}
}

// Value decodes the stored bit pattern.
func (c Coefficient) Value() float64 {
	return math.Float64frombits(c.Bits)
}

// FirstOrderEntry declares one differentiation variable and the constant
// partial derivatives known for it.
type FirstOrderEntry struct {
	Callback     cfg.Callback
	Coefficients []Coefficient
}

// Unknowns is the registry of every unknown of one compilation unit.
//
// The first-order half is fixed at construction. The higher-order half is an
// append-only, hash-consed set of chain nodes that grows as RaiseOrder is
// called. Unknowns is not safe for concurrent use.
type Unknowns struct {
	callbacks    []cfg.Callback
	coefficients [][]Coefficient
	byCallback   map[cfg.Callback]FirstOrderUnknown

	higher []NthOrderUnknownInfo
	byInfo map[NthOrderUnknownInfo]nthOrderUnknown

	buf []FirstOrderUnknown
	log commonlog.Logger
}

// New builds a registry from the variables discovered by earlier stages.
// Handle values follow the order of entries. If a callback appears more than
// once it keeps the position of its first occurrence and the coefficients of
// its last.
func New(entries []FirstOrderEntry) *Unknowns {
	r := &Unknowns{
		callbacks:    make([]cfg.Callback, 0, len(entries)),
		coefficients: make([][]Coefficient, 0, len(entries)),
		byCallback:   make(map[cfg.Callback]FirstOrderUnknown, len(entries)),
		byInfo:       make(map[NthOrderUnknownInfo]nthOrderUnknown),
		buf:          make([]FirstOrderUnknown, 0, scratchCapacity),
		log:          logger(),
	}

	for _, e := range entries {
		var coeffs []Coefficient
		if len(e.Coefficients) > 0 {
			coeffs = slices.Clone(e.Coefficients)
		}

		if f, ok := r.byCallback[e.Callback]; ok {
			r.log.Noticef("duplicate callback %s: replacing coefficients of %s", e.Callback, f)
			r.coefficients[f] = coeffs
			continue
		}

		r.byCallback[e.Callback] = FirstOrderUnknown(len(r.callbacks))
		r.callbacks = append(r.callbacks, e.Callback)
		r.coefficients = append(r.coefficients, coeffs)
	}

	r.log.Debugf("registry created with %d first-order unknowns", len(r.callbacks))
	return r
}

// Len returns the number of unknowns materialized so far.
func (r *Unknowns) Len() int {
	return len(r.callbacks) + len(r.higher)
}

// IsEmpty reports whether the registry holds no unknowns at all.
func (r *Unknowns) IsEmpty() bool {
	return r.Len() == 0
}

// NumFirstOrder returns the fixed number of first-order unknowns.
func (r *Unknowns) NumFirstOrder() int {
	return len(r.callbacks)
}

// NumHigherOrder returns the number of chain nodes materialized so far.
func (r *Unknowns) NumHigherOrder() int {
	return len(r.higher)
}

// CallbackUnknown returns the first-order unknown registered for cb.
func (r *Unknowns) CallbackUnknown(cb cfg.Callback) (FirstOrderUnknown, bool) {
	f, ok := r.byCallback[cb]
	return f, ok
}

// Callback returns the callback f was registered for.
func (r *Unknowns) Callback(f FirstOrderUnknown) cfg.Callback {
	r.checkFirstOrder(f)
	return r.callbacks[f]
}

// Coefficients returns a copy of the coefficient list of f.
func (r *Unknowns) Coefficients(f FirstOrderUnknown) []Coefficient {
	r.checkFirstOrder(f)
	return slices.Clone(r.coefficients[f])
}

// ParamDerivative returns d param / d f. A coefficient that was never
// declared is zero.
func (r *Unknowns) ParamDerivative(param cfg.Param, f FirstOrderUnknown) float64 {
	r.checkFirstOrder(f)
	for _, c := range r.coefficients[f] {
		if c.Param == param {
			return c.Value()
		}
	}
	return 0.0
}

// IsFirstOrder reports whether u addresses the first-order half.
func (r *Unknowns) IsFirstOrder(u Unknown) bool {
	return int(u) < len(r.callbacks)
}

// PreviousOrder returns the unknown that u differentiates once more, or
// false if u is first-order.
func (r *Unknowns) PreviousOrder(u Unknown) (Unknown, bool) {
	if r.IsFirstOrder(u) {
		return 0, false
	}
	return r.nthOrderInfo(u).PreviousOrder, true
}

// ToFirstOrder returns the variable applied last to obtain u.
func (r *Unknowns) ToFirstOrder(u Unknown) FirstOrderUnknown {
	if r.IsFirstOrder(u) {
		return FirstOrderUnknown(u)
	}
	return r.nthOrderInfo(u).Base
}

// Info returns the chain node behind u, or false if u is first-order.
func (r *Unknowns) Info(u Unknown) (NthOrderUnknownInfo, bool) {
	if r.IsFirstOrder(u) {
		return NthOrderUnknownInfo{}, false
	}
	return r.nthOrderInfo(u), true
}

// FirstOrderUnknowns yields the variables of u's chain, most recently
// applied first and the chain root last.
func (r *Unknowns) FirstOrderUnknowns(u Unknown) iter.Seq[FirstOrderUnknown] {
	return func(yield func(FirstOrderUnknown) bool) {
		curr := u
		for {
			if !yield(r.ToFirstOrder(curr)) {
				return
			}
			prev, ok := r.PreviousOrder(curr)
			if !ok {
				return
			}
			curr = prev
		}
	}
}

// FirstOrderUnknownsRev yields the chain of u root first. Chains have no
// backward links, so the chain is collected when this is called.
func (r *Unknowns) FirstOrderUnknownsRev(u Unknown) iter.Seq[FirstOrderUnknown] {
	chain := slices.Collect(r.FirstOrderUnknowns(u))
	slices.Reverse(chain)
	return slices.Values(chain)
}

// Order returns the differentiation order of u (1 for first-order unknowns).
func (r *Unknowns) Order(u Unknown) int {
	n := 1
	for {
		prev, ok := r.PreviousOrder(u)
		if !ok {
			return n
		}
		u = prev
		n++
	}
}

// RaiseOrder returns the unknown for u differentiated once more by next.
//
// next becomes the root of the new chain and u's chain is replayed on top of
// it in its original order. Every step is interned, so asking for the same
// (u, next) pair again returns the same handle without growing the store.
func (r *Unknowns) RaiseOrder(u Unknown, next FirstOrderUnknown) Unknown {
	r.checkFirstOrder(next)

	// The whole chain is copied out before the first insert. The buffer is
	// detached while in use and handed back afterwards.
	prevOrders := r.buf
	r.buf = nil
	prevOrders = slices.AppendSeq(prevOrders, r.FirstOrderUnknowns(u))

	curr := next.Unknown()
	for i := len(prevOrders) - 1; i >= 0; i-- {
		curr = r.ensure(NthOrderUnknownInfo{PreviousOrder: curr, Base: prevOrders[i]})
	}

	r.buf = prevOrders[:0]
	return curr
}

// ensure interns info and returns its flat handle.
func (r *Unknowns) ensure(info NthOrderUnknownInfo) Unknown {
	id, ok := r.byInfo[info]
	if !ok {
		id = nthOrderUnknown(len(r.higher))
		r.higher = append(r.higher, info)
		r.byInfo[info] = id
		if r.log.AllowLevel(commonlog.Debug) {
			r.log.Debugf("materialized %s = d(%s)/d%s", r.flat(id), info.PreviousOrder, r.callbacks[info.Base])
		}
	}
	return r.flat(id)
}

func (r *Unknowns) flat(id nthOrderUnknown) Unknown {
	return Unknown(uint32(id) + uint32(len(r.callbacks)))
}

func (r *Unknowns) nthOrderInfo(u Unknown) NthOrderUnknownInfo {
	idx := int(u) - len(r.callbacks)
	if idx >= len(r.higher) {
		panic(fmt.Sprintf("autodiff: %s does not belong to this registry (%d unknowns)", u, r.Len()))
	}
	return r.higher[idx]
}

func (r *Unknowns) checkFirstOrder(f FirstOrderUnknown) {
	if int(f) >= len(r.callbacks) {
		panic(fmt.Sprintf("autodiff: %s out of range (%d first-order unknowns)", f, len(r.callbacks)))
	}
}
