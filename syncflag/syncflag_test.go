package syncflag

import (
	"testing"
	"time"

	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/memsys"
)

func TestSignalUnblocksStreamWait(t *testing.T) {
	rt := device.NewSimulated(time.Microsecond)
	pool := memsys.New("sync", rt)
	f := New(pool)
	stream := rt.NewStream(0)

	var ran bool
	f.Wait(stream)
	stream.HostCallback(func() { ran = true })

	done := make(chan struct{})
	go func() {
		stream.Synchronize()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("stream completed before flag was signaled")
	case <-time.After(10 * time.Millisecond):
	}

	f.Signal()
	<-done
	if !ran {
		t.Fatal("expected host callback to have run after signal")
	}
}

func TestSignalTwicePanics(t *testing.T) {
	rt := device.NewSimulated(time.Microsecond)
	pool := memsys.New("sync", rt)
	f := New(pool)
	f.Signal()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double signal")
		}
	}()
	f.Signal()
}
