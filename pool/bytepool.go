// File: pool/bytepool.go
// Package pool provides reusable byte buffers for transport reads.
// License: Apache-2.0

package pool

import "sync"

// DefaultChunkSize is the read buffer size transports use when the caller
// does not size the pool explicitly.
const DefaultChunkSize = 4096

// BytePool hands out fixed-capacity byte slices and recycles them.
type BytePool struct {
	size int
	p    sync.Pool
}

// NewBytePool creates a pool of chunks with the given capacity. A size of
// zero or below falls back to DefaultChunkSize.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	bp := &BytePool{size: size}
	bp.p.New = func() any {
		return make([]byte, size)
	}
	return bp
}

// ChunkSize returns the capacity of buffers handed out by Get.
func (b *BytePool) ChunkSize() int {
	return b.size
}

// Get returns a full-length buffer from the pool.
func (b *BytePool) Get() []byte {
	return b.p.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers of a different capacity are
// dropped on the floor rather than poisoning the pool.
func (b *BytePool) Put(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.p.Put(buf[:b.size])
}
