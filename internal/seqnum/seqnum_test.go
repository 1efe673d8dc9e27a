package seqnum

import "testing"

// For every (last, new) with new = (last + k) mod 2^16, 1 <= k <= 32767,
// IsNew is true; for 32768 <= k <= 65535 it is false. IsNext is true iff
// k == 1.
func TestWrapAround(t *testing.T) {
	const last = uint16(60000)

	for k := 1; k <= 65535; k++ {
		newSeq := uint16((int(last) + k) % 65536)

		wantNew := k <= Half
		if got := IsNew(newSeq, last); got != wantNew {
			t.Fatalf("k=%d: IsNew(%d, %d) = %v, want %v", k, newSeq, last, got, wantNew)
		}

		wantNext := k == 1
		if got := IsNext(newSeq, last); got != wantNext {
			t.Fatalf("k=%d: IsNext(%d, %d) = %v, want %v", k, newSeq, last, got, wantNext)
		}
	}
}

func TestIsNewEqualIsFalse(t *testing.T) {
	if IsNew(5, 5) {
		t.Error("IsNew(5, 5) = true, want false (equal sequences are not new)")
	}
}

func TestIsNewAroundZeroWrap(t *testing.T) {
	if !IsNew(0, 65535) {
		t.Error("IsNew(0, 65535) = false, want true (0 is one step past 65535)")
	}
	if IsNew(65535, 0) {
		t.Error("IsNew(65535, 0) = true, want false (65535 is one step behind 0)")
	}
}

func TestIsNextWrapsAtBoundary(t *testing.T) {
	if !IsNext(0, 65535) {
		t.Error("IsNext(0, 65535) = false, want true")
	}
}
