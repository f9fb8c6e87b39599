package autodiff

import (
	"strconv"
	"strings"
)

// Describe renders u as a derivative operator over its callbacks, root
// first: "d/dV(1,0)" for a first-order unknown, "d2/dV(1,0)dI(2)" for a
// second-order one.
func (r *Unknowns) Describe(u Unknown) string {
	var sb strings.Builder
	sb.WriteByte('d')
	if order := r.Order(u); order > 1 {
		sb.WriteString(strconv.Itoa(order))
	}
	sb.WriteByte('/')
	for f := range r.FirstOrderUnknownsRev(u) {
		sb.WriteByte('d')
		sb.WriteString(r.callbacks[f].String())
	}
	return sb.String()
}
