package bridge

// FingerprintWindow is W, the fixed width of the run-length fingerprint
// captured from the first successful revolution after a cache invalidation.
const FingerprintWindow = 32

// findAlignmentCut locates where, in current++future, the next revolution
// boundary falls by matching fingerprint against a sliding window fanned
// out from the midpoint of the combined search area. It is a direct port
// of the original findSlidingWindow: ties are broken in favour of the
// candidate closest to the midpoint, alternating left and right of it.
//
// Returns 0 (alignment not attempted) if any input is shorter than the
// fingerprint window.
func findAlignmentCut(fingerprint, current, future []byte) int {
	w := len(fingerprint)
	if w == 0 || len(current) < w || len(future) < w {
		return 0
	}

	searchArea := make([]byte, 0, len(current)+len(future))
	searchArea = append(searchArea, current...)
	searchArea = append(searchArea, future...)

	midPoint := (len(searchArea) - w) / 2
	bestIndex := len(current) - 1
	bestScore := 0

	for a := 0; a <= midPoint; a++ {
		for _, direction := range [2]int{-1, 1} {
			startIndex := midPoint + direction*a
			if startIndex < 0 {
				continue
			}
			score := 0
			for pos := 0; pos < w; pos++ {
				idx := startIndex + pos
				if idx >= 0 && idx < len(searchArea) && fingerprint[pos] == searchArea[idx] {
					score++
				}
			}
			if score > bestScore {
				bestIndex = startIndex
				bestScore = score
				if score == w {
					return bestIndex
				}
			}
		}
	}

	return bestIndex
}

// runLengthCodesWithEnds is cache.go's revolutionBuffer.runLengthCodes
// generalized to an unpacked bit slice, additionally returning the
// exclusive bit index just past each code's terminating "1" -- the
// mapping backgroundRead needs to turn a code-space cut point from
// findAlignmentCut back into a bit-space one.
func runLengthCodesWithEnds(bits []bool) (codes []byte, ends []int) {
	run := byte(0)
	for i, bit := range bits {
		if bit {
			if run > 4 {
				run = 4
			}
			codes = append(codes, run+1)
			ends = append(ends, i+1)
			run = 0
		} else {
			run++
		}
	}
	return codes, ends
}

// alignedCutInBits runs the revolution aligner against a capture that may
// span more than one revolution, converting the run-length cut index
// findAlignmentCut returns back into a bit-space cut marking where the
// true revolution boundary falls. The split between the "current" and
// "future" halves handed to findAlignmentCut is arbitrary -- the
// algorithm only ever scores positions in their concatenation, so any
// non-empty split of the same combined capture yields the same cut.
// Returns 0 if the capture was too short to align; callers then fall back
// to the device's own end-of-revolution marking.
func alignedCutInBits(fingerprint []byte, bits []bool) int {
	codes, ends := runLengthCodesWithEnds(bits)
	half := len(codes) / 2
	if half == 0 {
		return 0
	}
	k := findAlignmentCut(fingerprint, codes[:half], codes[half:])
	if k <= 0 || k > len(ends) {
		return 0
	}
	return ends[k-1]
}
