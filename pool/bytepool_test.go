package pool_test

import (
	"testing"

	"github.com/momentics/hioload-mq/pool"
)

func TestBytePoolReuse(t *testing.T) {
	bp := pool.NewBytePool(128)
	b1 := bp.GetBuffer()
	if len(b1) != 128 {
		t.Fatalf("buffer length %d, want 128", len(b1))
	}
	bp.PutBuffer(b1[:10])
	b2 := bp.GetBuffer()
	if len(b2) != 128 {
		t.Errorf("resliced buffer not restored to pool size: %d", len(b2))
	}
}

func TestBytePoolRejectsSmallBuffers(t *testing.T) {
	bp := pool.NewBytePool(64)
	bp.PutBuffer(make([]byte, 8))
	if got := bp.GetBuffer(); len(got) != 64 {
		t.Errorf("pool returned a foreign buffer of %d bytes", len(got))
	}
}

func TestSyncPoolResetAndCount(t *testing.T) {
	resets := 0
	sp := pool.NewSyncPool(func() *int {
		v := 0
		return &v
	}, func(v *int) {
		*v = 0
		resets++
	})
	v := sp.Get()
	*v = 7
	sp.Put(v)
	if resets != 1 || *v != 0 {
		t.Errorf("reset not applied: resets=%d v=%d", resets, *v)
	}
	if sp.Allocated() < 1 {
		t.Error("allocation not counted")
	}
}

func TestBytePoolAllocated(t *testing.T) {
	bp := pool.NewBytePool(32)
	before := bp.Allocated()
	_ = bp.GetBuffer()
	if bp.Allocated() != before+1 {
		t.Errorf("allocated %d, want %d", bp.Allocated(), before+1)
	}
}
