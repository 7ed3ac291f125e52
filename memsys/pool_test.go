package memsys

import "testing"

type fakeAlloc struct {
	allocs int
	frees  int
}

func (f *fakeAlloc) AllocPinned(n int) ([]byte, error) {
	f.allocs++
	return make([]byte, n), nil
}

func (f *fakeAlloc) FreePinned([]byte) { f.frees++ }

func TestGetRecyclesFromFreeList(t *testing.T) {
	fa := &fakeAlloc{}
	p := New("t", fa)

	b1 := p.Get(64)
	b1.Release()
	b2 := p.Get(64)

	if fa.allocs != 1 {
		t.Fatalf("expected exactly one underlying allocation, got %d", fa.allocs)
	}
	if len(b2.Bytes) != 64 {
		t.Fatalf("expected 64 bytes, got %d", len(b2.Bytes))
	}
}

func TestPreallocateFillsFreeList(t *testing.T) {
	fa := &fakeAlloc{}
	p := New("t", fa)
	if err := p.Preallocate(128, 3); err != nil {
		t.Fatal(err)
	}
	if fa.allocs != 3 {
		t.Fatalf("expected 3 preallocations, got %d", fa.allocs)
	}
	p.Get(128)
	if fa.allocs != 3 {
		t.Fatalf("Get should have recycled a preallocated buffer, got %d allocs", fa.allocs)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	fa := &fakeAlloc{}
	p := New("t", fa)
	b := p.Get(32)
	b.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	b.Release()
}

func TestDrainFreesEverything(t *testing.T) {
	fa := &fakeAlloc{}
	p := New("t", fa)
	b := p.Get(16)
	b.Release()
	p.Drain()
	if fa.frees != 1 {
		t.Fatalf("expected 1 free, got %d", fa.frees)
	}
}

func TestAllocatedTracksCumulativeBytes(t *testing.T) {
	fa := &fakeAlloc{}
	p := New("t", fa)
	p.Get(100)
	p.Get(100)
	if got := p.Allocated(); got != 200 {
		t.Fatalf("expected 200 allocated bytes, got %d", got)
	}
}
