// Package cfg holds the identities the control-flow graph uses to refer to
// quantities outside of a model body: the callbacks a model may be
// differentiated against and the compile-time parameters it reads.
package cfg

import "fmt"

// Param is the dense id of a compile-time parameter.
type Param uint32

func (p Param) String() string {
	return fmt.Sprintf("param%d", uint32(p))
}

// CallbackKind identifies what kind of external quantity a Callback names.
type CallbackKind uint8

const (
	NodeVoltage CallbackKind = iota + 1
	BranchCurrent
	Parameter
	Temperature
	PortConnected
	PortFlow
)

var kindNames = map[CallbackKind]string{
	NodeVoltage:   "voltage",
	BranchCurrent: "current",
	Parameter:     "param",
	Temperature:   "temperature",
	PortConnected: "port_connected",
	PortFlow:      "flow",
}

func (k CallbackKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CallbackKind(%d)", uint8(k))
}

// ParseCallbackKind is the inverse of CallbackKind.String.
func ParseCallbackKind(name string) (CallbackKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Operands returns how many of Hi and Lo the kind uses, in that order.
func (k CallbackKind) Operands() int {
	switch k {
	case NodeVoltage:
		return 2
	case Temperature:
		return 0
	default:
		return 1
	}
}

// Callback is the identity of an external quantity. Callbacks are compared by
// value, so two Callbacks with the same kind and operands are the same
// quantity. Operands that a kind does not use must be zero.
type Callback struct {
	Kind CallbackKind
	Hi   uint32
	Lo   uint32
}

// Valid reports whether the operands c's kind does not use are zero.
func (c Callback) Valid() bool {
	switch c.Kind.Operands() {
	case 0:
		return c.Hi == 0 && c.Lo == 0
	case 1:
		return c.Lo == 0
	}
	return true
}

// Voltage returns the callback for the potential between nodes hi and lo.
func Voltage(hi, lo uint32) Callback { return Callback{Kind: NodeVoltage, Hi: hi, Lo: lo} }

// Current returns the callback for the flow through a branch.
func Current(branch uint32) Callback { return Callback{Kind: BranchCurrent, Hi: branch} }

// ParamCallback returns the callback for a parameter.
func ParamCallback(p Param) Callback { return Callback{Kind: Parameter, Hi: uint32(p)} }

// TemperatureCallback returns the callback for the simulator temperature.
func TemperatureCallback() Callback { return Callback{Kind: Temperature} }

// PortConnectedCallback returns the callback for $port_connected(port).
func PortConnectedCallback(port uint32) Callback {
	return Callback{Kind: PortConnected, Hi: port}
}

// Flow returns the callback for the flow into a port.
func Flow(port uint32) Callback { return Callback{Kind: PortFlow, Hi: port} }

func (c Callback) String() string {
	switch c.Kind {
	case NodeVoltage:
		return fmt.Sprintf("V(%d,%d)", c.Hi, c.Lo)
	case BranchCurrent:
		return fmt.Sprintf("I(%d)", c.Hi)
	case Parameter:
		return fmt.Sprintf("param(%d)", c.Hi)
	case Temperature:
		return "$temperature"
	case PortConnected:
		return fmt.Sprintf("$port_connected(%d)", c.Hi)
	case PortFlow:
		return fmt.Sprintf("flow(%d)", c.Hi)
	default:
		return fmt.Sprintf("callback(%d,%d,%d)", uint8(c.Kind), c.Hi, c.Lo)
	}
}
