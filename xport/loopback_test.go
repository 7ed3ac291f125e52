package xport

import (
	"math"
	"sync"
	"testing"
	"unsafe"
)

func floatBytes(vs ...float64) []byte {
	b := make([]byte, len(vs)*8)
	for i, v := range vs {
		*(*float64)(unsafe.Pointer(&b[i*8])) = v
	}
	return b
}

func floatsOf(b []byte) []float64 {
	n := len(b) / 8
	out := make([]float64, n)
	for i := range out {
		out[i] = *(*float64)(unsafe.Pointer(&b[i*8]))
	}
	return out
}

func testAll(t *testing.T, group []*Loopback, fn func(i int, l *Loopback)) {
	t.Helper()
	var wg sync.WaitGroup
	for i, l := range group {
		wg.Add(1)
		go func(i int, l *Loopback) {
			defer wg.Done()
			fn(i, l)
		}(i, l)
	}
	wg.Wait()
}

func waitReq(t *testing.T, req Request, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	for {
		done, err := req.Test()
		if err != nil {
			t.Fatal(err)
		}
		if done {
			return
		}
	}
}

func TestLoopbackBarrier(t *testing.T) {
	group := NewLoopbackGroup(4)
	testAll(t, group, func(_ int, l *Loopback) {
		req, err := l.IBarrier("default")
		waitReq(t, req, err)
	})
}

func TestLoopbackAllreduceSum(t *testing.T) {
	group := NewLoopbackGroup(3)
	results := make([][]byte, len(group))
	testAll(t, group, func(i int, l *Loopback) {
		send := floatBytes(float64(i + 1))
		recv := make([]byte, 8)
		req, err := l.IAllreduce("default", send, recv, OpSum)
		waitReq(t, req, err)
		results[i] = recv
	})
	for i, r := range results {
		if got := floatsOf(r)[0]; got != 6 {
			t.Fatalf("rank %d: expected sum 6, got %v", i, got)
		}
	}
}

func TestLoopbackBcastFromRoot(t *testing.T) {
	group := NewLoopbackGroup(4)
	results := make([][]byte, len(group))
	const root = 2
	testAll(t, group, func(i int, l *Loopback) {
		var buf []byte
		if i == root {
			buf = floatBytes(42)
		} else {
			buf = make([]byte, 8)
		}
		req, err := l.IBcast("default", buf, root)
		waitReq(t, req, err)
		results[i] = buf
	})
	for i, r := range results {
		if got := floatsOf(r)[0]; got != 42 {
			t.Fatalf("rank %d: expected 42, got %v", i, got)
		}
	}
}

func TestLoopbackGatherToRoot(t *testing.T) {
	group := NewLoopbackGroup(3)
	const root = 0
	var gathered []byte
	testAll(t, group, func(i int, l *Loopback) {
		send := floatBytes(float64(i))
		var recv []byte
		if i == root {
			recv = make([]byte, 8*len(group))
		}
		req, err := l.IGather("default", send, recv, root)
		waitReq(t, req, err)
		if i == root {
			gathered = recv
		}
	})
	want := []float64{0, 1, 2}
	got := floatsOf(gathered)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLoopbackReduceScatterMax(t *testing.T) {
	group := NewLoopbackGroup(2)
	results := make([][]byte, len(group))
	testAll(t, group, func(i int, l *Loopback) {
		send := floatBytes(float64(i), float64(10-i))
		recv := make([]byte, 8)
		req, err := l.IReduceScatter("default", send, recv, OpMax)
		waitReq(t, req, err)
		results[i] = recv
	})
	if got := floatsOf(results[0])[0]; got != 1 {
		t.Fatalf("rank 0 chunk: expected max(0,1)=1, got %v", got)
	}
	if got := floatsOf(results[1])[0]; got != math.Max(10, 9) {
		t.Fatalf("rank 1 chunk: expected max(10,9)=10, got %v", got)
	}
}

func TestLoopbackSendRecv(t *testing.T) {
	group := NewLoopbackGroup(2)
	var recvd []byte
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		req, err := group[0].ISend("default", floatBytes(99), 1)
		waitReq(t, req, err)
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, 8)
		req, err := group[1].IRecv("default", buf, 0)
		waitReq(t, req, err)
		recvd = buf
	}()
	wg.Wait()
	if got := floatsOf(recvd)[0]; got != 99 {
		t.Fatalf("expected 99, got %v", got)
	}
}
