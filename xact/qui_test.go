package xact

import (
	"testing"
	"time"
)

func TestRefcntQuiCBActiveWhileCountPositive(t *testing.T) {
	if got := RefcntQuiCB(func() int { return 1 }, time.Second, 0); got != QuiActive {
		t.Fatalf("expected QuiActive, got %v", got)
	}
}

func TestRefcntQuiCBInactiveWhenDrained(t *testing.T) {
	if got := RefcntQuiCB(func() int { return 0 }, time.Second, 0); got != QuiInactiveCB {
		t.Fatalf("expected QuiInactiveCB, got %v", got)
	}
}

func TestRefcntQuiCBTimesOut(t *testing.T) {
	got := RefcntQuiCB(func() int { return 1 }, time.Millisecond, time.Second)
	if got != QuiTimeout {
		t.Fatalf("expected QuiTimeout, got %v", got)
	}
}
