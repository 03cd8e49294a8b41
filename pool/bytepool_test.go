// File: pool/bytepool_test.go
// License: Apache-2.0

package pool

import "testing"

func TestBytePoolGetPut(t *testing.T) {
	bp := NewBytePool(128)

	buf := bp.Get()
	if len(buf) != 128 || cap(buf) != 128 {
		t.Fatalf("expected 128-byte chunk, got len=%d cap=%d", len(buf), cap(buf))
	}
	bp.Put(buf)

	again := bp.Get()
	if len(again) != 128 {
		t.Fatalf("recycled chunk has len=%d", len(again))
	}
}

func TestBytePoolShortenedChunkRestored(t *testing.T) {
	bp := NewBytePool(64)

	buf := bp.Get()
	bp.Put(buf[:7]) // sliced-down chunks regain full length on reuse

	got := bp.Get()
	if len(got) != 64 {
		t.Fatalf("expected full-length chunk, got %d", len(got))
	}
}

func TestBytePoolRejectsForeignBuffers(t *testing.T) {
	bp := NewBytePool(32)
	bp.Put(make([]byte, 16)) // wrong capacity, silently dropped

	if got := bp.Get(); len(got) != 32 {
		t.Fatalf("pool handed out foreign buffer of len %d", len(got))
	}
}

func TestBytePoolDefaultSize(t *testing.T) {
	bp := NewBytePool(0)
	if bp.ChunkSize() != DefaultChunkSize {
		t.Fatalf("expected default chunk size, got %d", bp.ChunkSize())
	}
}
