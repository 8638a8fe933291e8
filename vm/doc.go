// Package vm implements the Rill virtual machine.
//
// This package contains:
//   - Compiled unit format, validation and CBOR serialization
//   - Tagged value representation with reference-counted heap objects
//   - Bytecode interpreter with per-call executions and frame chains
//   - Native function registry and the suspension/resume protocol
package vm
