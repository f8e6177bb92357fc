package isobmff

import (
	"math"
	"testing"
)

func TestSafeMovVideoTimescaleNoReductionNeeded(t *testing.T) {
	got, ok := SafeMovVideoTimescale(1000, 90000)
	if ok {
		t.Fatalf("SafeMovVideoTimescale(1000, 90000) = (%d, true), want (_, false)", got)
	}
}

func TestSafeMovVideoTimescaleZeroRate(t *testing.T) {
	_, ok := SafeMovVideoTimescale(math.MaxInt32+1, 0)
	if ok {
		t.Fatal("expected false when rate is zero")
	}
}

func TestSafeMovVideoTimescaleReduction(t *testing.T) {
	maxDTS := int64(8_100_000_000)
	rate := uint32(90_000)
	got, ok := SafeMovVideoTimescale(maxDTS, rate)
	if !ok {
		t.Fatal("expected reduction to be necessary")
	}
	if got == 0 || got >= rate {
		t.Errorf("got = %d, want 0 < t < %d", got, rate)
	}
	if bound := maxDTS * int64(got) / int64(rate); bound > math.MaxInt32 {
		t.Errorf("maxDTS*t/rate = %d, exceeds MaxInt32", bound)
	}
}

func TestSafeMovVideoTimescaleBoundaryAtMaxInt32(t *testing.T) {
	_, ok := SafeMovVideoTimescale(math.MaxInt32, 90000)
	if ok {
		t.Fatal("expected no reduction when maxDTS == MaxInt32 exactly")
	}
	_, ok = SafeMovVideoTimescale(math.MaxInt32+1, 90000)
	if !ok {
		t.Fatal("expected reduction when maxDTS == MaxInt32+1")
	}
}
