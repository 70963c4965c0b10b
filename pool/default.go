// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

// DefaultBufferSize is the read chunk used by raw stream connections.
const DefaultBufferSize = 64 * 1024

var defaultBytePool = NewBytePool(DefaultBufferSize)

// DefaultBytePool returns the process-wide pool of DefaultBufferSize buffers.
func DefaultBytePool() *BytePool {
	return defaultBytePool
}
