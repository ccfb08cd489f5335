package bridge

import "testing"

func TestFindAlignmentCutPerfectMatchAtMidpoint(t *testing.T) {
	fingerprint := []byte{1, 2, 3, 4, 2, 3, 1, 2, 3, 4, 2, 3, 1, 2, 3, 4, 2, 3, 1, 2, 3, 4, 2, 3, 1, 2, 3, 4, 2, 3, 1, 2}
	if len(fingerprint) != FingerprintWindow {
		t.Fatalf("fingerprint must be exactly W=%d long, got %d", FingerprintWindow, len(fingerprint))
	}

	current := make([]byte, 40)
	future := make([]byte, 40)
	// searchArea = current++future, length 80; midpoint = (80-32)/2 = 24.
	// Place the fingerprint exactly at the midpoint, split across the
	// current/future boundary at index 40.
	copy(current[24:], fingerprint[:16])
	copy(future[:16], fingerprint[16:])

	cut := findAlignmentCut(fingerprint, current, future)
	if cut != 24 {
		t.Errorf("got cut=%d, want 24", cut)
	}
}

func TestFindAlignmentCutShortInputsReturnZero(t *testing.T) {
	fingerprint := make([]byte, FingerprintWindow)
	short := make([]byte, FingerprintWindow-1)
	long := make([]byte, FingerprintWindow+10)

	if got := findAlignmentCut(fingerprint, short, long); got != 0 {
		t.Errorf("short current: got %d, want 0", got)
	}
	if got := findAlignmentCut(fingerprint, long, short); got != 0 {
		t.Errorf("short future: got %d, want 0", got)
	}
	if got := findAlignmentCut(nil, long, long); got != 0 {
		t.Errorf("empty fingerprint: got %d, want 0", got)
	}
}

func TestFindAlignmentCutPrefersClosestToMidpointOnTie(t *testing.T) {
	// An all-zero fingerprint against an all-zero search area scores W
	// (a perfect match) everywhere; the sliding search must return the
	// very first candidate it tries, the midpoint itself.
	fingerprint := make([]byte, FingerprintWindow)
	current := make([]byte, 40)
	future := make([]byte, 40)

	cut := findAlignmentCut(fingerprint, current, future)
	want := (len(current) + len(future) - FingerprintWindow) / 2
	if cut != want {
		t.Errorf("got cut=%d, want midpoint %d", cut, want)
	}
}

func TestRunLengthCodesWithEnds(t *testing.T) {
	// false,false,true -> code 3 ending at bit index 3 (exclusive);
	// true -> code 1 ending at bit index 4.
	bits := []bool{false, false, true, true}
	codes, ends := runLengthCodesWithEnds(bits)
	if len(codes) != 2 || codes[0] != 3 || codes[1] != 1 {
		t.Fatalf("codes = %v, want [3 1]", codes)
	}
	if len(ends) != 2 || ends[0] != 3 || ends[1] != 4 {
		t.Fatalf("ends = %v, want [3 4]", ends)
	}
}

func TestAlignedCutInBitsFindsBoundaryAgainstFingerprint(t *testing.T) {
	// One revolution's worth of bits, repeated twice to simulate a
	// two-revolution capture with a clean, known boundary at len(rev).
	rev := []bool{
		false, false, true, // code 3
		false, true, // code 2
		true, // code 1
		false, false, false, true, // code 4
	}
	codes, ends := runLengthCodesWithEnds(rev)
	_ = ends
	// As in real captures, the fingerprint is a prefix shorter than the
	// revolution: the first W=2 codes. Combined codes are [3 2 1 4 3 2 1 4],
	// midpoint = (8-2)/2 = 3, and the fan-out hits the perfect match at code
	// index 4 (bit 10) before it could reach index 0.
	fingerprint := codes[:2]

	twoRevs := append(append([]bool{}, rev...), rev...)
	cut := alignedCutInBits(fingerprint, twoRevs)
	if cut != len(rev) {
		t.Errorf("alignedCutInBits() = %d, want %d (one clean revolution)", cut, len(rev))
	}
}

func TestAlignedCutInBitsTooShortReturnsZero(t *testing.T) {
	fingerprint := make([]byte, FingerprintWindow)
	bits := []bool{true, false, true}
	if got := alignedCutInBits(fingerprint, bits); got != 0 {
		t.Errorf("alignedCutInBits() on a too-short capture = %d, want 0", got)
	}
}
