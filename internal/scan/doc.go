// Package scan implements Mercury's binding table and the uniform
// scan-iterator contract every access operator in the query executor
// implements: MoveNext/Dispose over a shared binding table.
//
// Scan is a sealed interface: an unexported marker method restricts
// implementations to this package and lets the executor exhaustively
// type-switch without a default case silently swallowing a new
// variant. All dispatch is through a fixed set of concrete scan kinds
// — triple pattern, path, in-memory, service, and the composites
// (join, union, optional, minus, filter, bind) built over them.
package scan
