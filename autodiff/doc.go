// Package autodiff names the unknowns of the automatic-differentiation pass.
//
// This package contains:
//   - The first-order registry, mapping callbacks to differentiation variables
//   - The hash-consed store of higher-order derivative chains
//   - Order raising, which extends a chain by one more variable
//   - CBOR snapshots of a registry for golden tests and tooling
package autodiff
