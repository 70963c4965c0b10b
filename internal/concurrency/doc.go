// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-mq: the bounded lock-free task queue and
// the I/O worker pool owned by each Context. The pool runs short transport
// tasks (dials, handshakes); long-lived pumps run on their own goroutines.
package concurrency
