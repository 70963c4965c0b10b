// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

// BytePool hands out fixed-size scratch buffers for transport reads.
type BytePool struct {
	pool *SyncPool[*[]byte]
	size int
}

// NewBytePool creates a pool of buffers of the given size.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BytePool{
		pool: NewSyncPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}, nil),
		size: size,
	}
}

// Size returns the length of buffers returned by GetBuffer.
func (b *BytePool) Size() int { return b.size }

// Allocated is the number of buffers created so far; a steadily growing
// value means buffers are not being returned.
func (b *BytePool) Allocated() int64 { return b.pool.Allocated() }

// GetBuffer returns a buffer of Size bytes.
func (b *BytePool) GetBuffer() []byte {
	return (*b.pool.Get())[:b.size]
}

// PutBuffer returns a buffer to the pool. Buffers that were not obtained
// from this pool or were resliced below Size are left to the GC.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) < b.size {
		return
	}
	buf = buf[:b.size]
	b.pool.Put(&buf)
}
