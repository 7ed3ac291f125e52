package backend

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/xport"
)

func floatBytes(vs ...float64) []byte {
	b := make([]byte, len(vs)*8)
	for i, v := range vs {
		*(*float64)(unsafe.Pointer(&b[i*8])) = v
	}
	return b
}

func floatsOf(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = *(*float64)(unsafe.Pointer(&b[i*8]))
	}
	return out
}

// rankCluster builds n Backends, one per simulated rank, each with its own
// device and its own view of a shared Loopback transport group, plus one
// user-owned stream per rank standing in for the caller's own device
// stream (spec §4.4/§4.7's "on the user's device stream").
func rankCluster(t *testing.T, n int) ([]*Backend, []device.Stream) {
	t.Helper()
	transports := xport.NewLoopbackGroup(n)
	backends := make([]*Backend, n)
	streams := make([]device.Stream, n)
	for i := range backends {
		rt := device.NewSimulated(time.Microsecond)
		backends[i] = New(rt, transports[i], "default", nil)
		streams[i] = rt.NewStream(0)
	}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Finalize()
		}
	})
	return backends, streams
}

func eachRank(t *testing.T, backends []*Backend, fn func(rank int, b *Backend)) {
	t.Helper()
	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b *Backend) {
			defer wg.Done()
			fn(i, b)
		}(i, b)
	}
	wg.Wait()
}

func TestScenarioBarrier(t *testing.T) {
	backends, streams := rankCluster(t, 4)
	eachRank(t, backends, func(rank int, b *Backend) {
		if err := b.Barrier(streams[rank]); err != nil {
			t.Error(err)
		}
	})
}

func TestScenarioAllreduceSum(t *testing.T) {
	backends, streams := rankCluster(t, 3)
	results := make([][]float64, len(backends))
	eachRank(t, backends, func(rank int, b *Backend) {
		send := floatBytes(float64(rank + 1))
		recv := make([]byte, 8)
		if err := b.Allreduce(streams[rank], send, recv, xport.OpSum, Automatic); err != nil {
			t.Error(err)
			return
		}
		results[rank] = floatsOf(recv)
	})
	for rank, r := range results {
		if r[0] != 6 {
			t.Fatalf("rank %d: expected sum 6, got %v", rank, r[0])
		}
	}
}

func TestScenarioBroadcastFromRoot(t *testing.T) {
	backends, streams := rankCluster(t, 4)
	const root = 1
	results := make([][]float64, len(backends))
	eachRank(t, backends, func(rank int, b *Backend) {
		var buf []byte
		if rank == root {
			buf = floatBytes(7)
		} else {
			buf = make([]byte, 8)
		}
		if err := b.Bcast(streams[rank], buf, root, Automatic); err != nil {
			t.Error(err)
			return
		}
		results[rank] = floatsOf(buf)
	})
	for rank, r := range results {
		if r[0] != 7 {
			t.Fatalf("rank %d: expected 7, got %v", rank, r[0])
		}
	}
}

func TestScenarioGatherToRoot(t *testing.T) {
	backends, streams := rankCluster(t, 3)
	const root = 0
	var gathered []float64
	eachRank(t, backends, func(rank int, b *Backend) {
		send := floatBytes(float64(rank))
		var recv []byte
		if rank == root {
			recv = make([]byte, 8*len(backends))
		}
		if err := b.Gather(streams[rank], send, recv, root, rank, Automatic); err != nil {
			t.Error(err)
			return
		}
		if rank == root {
			gathered = floatsOf(recv)
		}
	})
	want := []float64{0, 1, 2}
	for i := range want {
		if gathered[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, gathered)
		}
	}
}

func TestScenarioReduceScatterMax(t *testing.T) {
	backends, streams := rankCluster(t, 2)
	results := make([][]float64, len(backends))
	eachRank(t, backends, func(rank int, b *Backend) {
		send := floatBytes(float64(rank), float64(10-rank))
		recv := make([]byte, 8)
		if err := b.ReduceScatter(streams[rank], send, recv, xport.OpMax, Automatic); err != nil {
			t.Error(err)
			return
		}
		results[rank] = floatsOf(recv)
	})
	if results[0][0] != 1 {
		t.Fatalf("rank 0: expected 1, got %v", results[0][0])
	}
	if results[1][0] != 10 {
		t.Fatalf("rank 1: expected 10, got %v", results[1][0])
	}
}

func TestScenarioPipelinedAllreduce(t *testing.T) {
	backends, streams := rankCluster(t, 3)
	const iterations = 100
	eachRank(t, backends, func(rank int, b *Backend) {
		for i := 0; i < iterations; i++ {
			send := floatBytes(float64(rank + 1))
			recv := make([]byte, 8)
			h, err := b.IAllreduce(streams[rank], send, recv, xport.OpSum, Automatic)
			if err != nil {
				t.Error(err)
				return
			}
			for {
				done, err := h.Test()
				if err != nil {
					t.Error(err)
					return
				}
				if done {
					break
				}
			}
			if got := floatsOf(recv)[0]; got != 6 {
				t.Fatalf("iteration %d: expected sum 6, got %v", i, got)
			}
		}
	})
}

func TestInvalidAlgorithmRejected(t *testing.T) {
	backends, streams := rankCluster(t, 1)
	_, err := backends[0].IAllreduce(streams[0], floatBytes(1), make([]byte, 8), xport.OpSum, Algorithm(99))
	if err == nil {
		t.Fatal("expected an error for an invalid algorithm selection")
	}
}

func TestZeroCountCollectiveReturnsNilRequest(t *testing.T) {
	backends, streams := rankCluster(t, 1)
	h, err := backends[0].IAllreduce(streams[0], nil, nil, xport.OpSum, Automatic)
	if err != nil {
		t.Fatal(err)
	}
	if h != nil {
		t.Fatal("expected a nil request for a zero-count collective")
	}
}

// TestNonBlockingRequestExpressesStreamOrdering exercises spec §8's hardest
// testable property: h.Wait(stream) never blocks the host, yet any work
// enqueued on stream after the Wait call only runs once the collective's
// result is visible - stream-ordering, not a CPU barrier.
func TestNonBlockingRequestExpressesStreamOrdering(t *testing.T) {
	backends, streams := rankCluster(t, 2)
	rank0, rank1 := backends[0], backends[1]
	stream0, stream1 := streams[0], streams[1]

	recv0 := make([]byte, 8)
	recv1 := make([]byte, 8)

	var wg sync.WaitGroup
	wg.Add(2)
	seen := make([]float64, 2)

	go func() {
		defer wg.Done()
		h, err := rank0.IAllreduce(stream0, floatBytes(1), recv0, xport.OpSum, Automatic)
		if err != nil {
			t.Error(err)
			return
		}
		// Wait must return immediately: it is a stream-ordering op, not a
		// host block. The host never spins here.
		if err := h.Wait(stream0); err != nil {
			t.Error(err)
			return
		}
		done := make(chan struct{})
		stream0.HostCallback(func() {
			seen[0] = floatsOf(recv0)[0]
			close(done)
		})
		<-done
	}()

	go func() {
		defer wg.Done()
		h, err := rank1.IAllreduce(stream1, floatBytes(2), recv1, xport.OpSum, Automatic)
		if err != nil {
			t.Error(err)
			return
		}
		if err := h.Wait(stream1); err != nil {
			t.Error(err)
			return
		}
		done := make(chan struct{})
		stream1.HostCallback(func() {
			seen[1] = floatsOf(recv1)[0]
			close(done)
		})
		<-done
	}()

	wg.Wait()
	if seen[0] != 3 || seen[1] != 3 {
		t.Fatalf("expected the stream-ordered callback to observe the completed result, got %v", seen)
	}
}
