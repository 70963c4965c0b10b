// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable object and byte-buffer pools. Transports borrow read buffers from
// a BytePool instead of allocating per read.
package pool
