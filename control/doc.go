// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, live configuration and debug introspection for the
// messaging engine.
//
// Provides concurrent-safe state handling primitives including:
//   - Prometheus collectors scoped to one registry per Context
//   - A configuration store with reload listeners
//   - Named debug probes and state dumps
package control
