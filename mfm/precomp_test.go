package mfm

import "testing"

// Each of the six tabulated windows must produce the documented direction;
// everything else must produce PrecompNone.
func TestClassifyWindowTable(t *testing.T) {
	early := []uint8{0x09, 0x0a, 0x4a}
	late := []uint8{0x28, 0x29, 0x48}

	for _, w := range early {
		if got := classifyWindow(w); got != PrecompEarly {
			t.Errorf("window 0x%02x: got %v, want PrecompEarly", w, got)
		}
	}
	for _, w := range late {
		if got := classifyWindow(w); got != PrecompLate {
			t.Errorf("window 0x%02x: got %v, want PrecompLate", w, got)
		}
	}

	for w := 0; w < 0x80; w++ {
		skip := false
		for _, e := range early {
			if uint8(w) == e {
				skip = true
			}
		}
		for _, l := range late {
			if uint8(w) == l {
				skip = true
			}
		}
		if skip {
			continue
		}
		if got := classifyWindow(uint8(w)); got != PrecompNone {
			t.Errorf("window 0x%02x: got %v, want PrecompNone", w, got)
		}
	}
}

func TestComputeCellAdjustmentsDisabledOutsidePrecompRange(t *testing.T) {
	// 0x09 pattern embedded in a byte: bits 000 1 001 0 -> 0x12
	mfmBits := []byte{0x12}
	adjustments := ComputeCellAdjustments(mfmBits, 8, false)
	for i, a := range adjustments {
		if a != PrecompNone {
			t.Errorf("bit %d: got %v, want PrecompNone when precomp disabled", i, a)
		}
	}
}

func TestComputeCellAdjustmentsEarlyWindow(t *testing.T) {
	// bits: 0 0 0 1 0 0 1 0  -> the "1" at index 3 has window
	// prev3=000 cur=1 next3=001 = 0x09 -> Early
	mfmBits := []byte{0x12}
	adjustments := ComputeCellAdjustments(mfmBits, 8, true)
	if adjustments[3] != PrecompEarly {
		t.Errorf("bit 3: got %v, want PrecompEarly", adjustments[3])
	}
	// The "1" at index 6 has window prev3=100 cur=1 next3=000 (trailing
	// context past the buffer end reads as zero) = 0x48 -> Late.
	if adjustments[6] != PrecompLate {
		t.Errorf("bit 6: got %v, want PrecompLate", adjustments[6])
	}
}

func TestPrecompNsForPacked(t *testing.T) {
	if PrecompNsForPacked(PrecompEarly) != PrecompEarlyPackedNs {
		t.Errorf("early packed shift mismatch")
	}
	if PrecompNsForPacked(PrecompLate) != PrecompLatePackedNs {
		t.Errorf("late packed shift mismatch")
	}
	if PrecompNsForPacked(PrecompNone) != 0 {
		t.Errorf("none packed shift must be zero")
	}
}

func TestPrecompNsForRunLength(t *testing.T) {
	if PrecompNsForRunLength(PrecompEarly) != PrecompEarlyRunNs {
		t.Errorf("early run-length shift mismatch")
	}
	if PrecompNsForRunLength(PrecompLate) != PrecompLateRunNs {
		t.Errorf("late run-length shift mismatch")
	}
}
