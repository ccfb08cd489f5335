package mfm

// Write precompensation constants, tuned separately per wire protocol.
// Inner cylinders pack bit-cells closer together so a written flux
// transition needs to be nudged away from its neighbour to land correctly.
const (
	PrecompEarlyPackedNs = -125
	PrecompLatePackedNs  = 125
	PrecompEarlyRunNs    = -140
	PrecompLateRunNs     = 140

	// WritePrecompStartCylinder is the first (innermost) cylinder for which
	// precompensation is applied.
	WritePrecompStartCylinder = 40
)

// PrecompAdjust classifies how a single flux transition should be shifted.
type PrecompAdjust int

const (
	PrecompNone PrecompAdjust = iota
	PrecompEarly
	PrecompLate
)

// classifyWindow maps a 7-bit window (3 cells before the transition, the
// transition cell itself, 3 cells after) onto an adjustment direction.
func classifyWindow(window uint8) PrecompAdjust {
	switch window & 0x7f {
	case 0x09, 0x0a, 0x4a:
		return PrecompEarly
	case 0x28, 0x29, 0x48:
		return PrecompLate
	default:
		return PrecompNone
	}
}

// ComputeCellAdjustments walks a padded MFM bitcell stream (MSB-first,
// totalBits valid bits) and returns, for every bit-cell, the precomp
// adjustment selected by the surrounding 7-bit window. Cells carrying a "0"
// always report PrecompNone. When usePrecomp is false (outer cylinders) it
// returns an all-None slice without inspecting the stream.
func ComputeCellAdjustments(mfmBits []byte, totalBits int, usePrecomp bool) []PrecompAdjust {
	adjustments := make([]PrecompAdjust, totalBits)
	if !usePrecomp {
		return adjustments
	}

	getBit := func(pos int) uint8 {
		if pos < 0 || pos >= totalBits {
			return 0
		}
		byteIdx := pos / 8
		bitIdx := 7 - (pos % 8)
		return (mfmBits[byteIdx] >> bitIdx) & 1
	}

	for pos := 0; pos < totalBits; pos++ {
		if getBit(pos) == 0 {
			continue
		}
		var window uint8
		for off := -3; off <= 3; off++ {
			window = (window << 1) | getBit(pos+off)
		}
		adjustments[pos] = classifyWindow(window)
	}
	return adjustments
}

// PrecompNsForPacked returns the nanosecond shift for the packed framed
// protocol (protocol A).
func PrecompNsForPacked(a PrecompAdjust) int {
	switch a {
	case PrecompEarly:
		return PrecompEarlyPackedNs
	case PrecompLate:
		return PrecompLatePackedNs
	default:
		return 0
	}
}

// PrecompNsForRunLength returns the nanosecond shift for the opcode flux
// protocol (protocol B).
func PrecompNsForRunLength(a PrecompAdjust) int {
	switch a {
	case PrecompEarly:
		return PrecompEarlyRunNs
	case PrecompLate:
		return PrecompLateRunNs
	default:
		return 0
	}
}
