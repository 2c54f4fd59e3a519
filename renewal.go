package commitfit

// RenewalMask flags the transitions that land on a renewal boundary.
//
// The mask has one entry per transition, so its length is periods-1.
// Entry j describes the move into period j+1 and is set when period j+2
// (counting from one) is a multiple of the renewal period:
//
//	periods=6, period=3  →  [0 1 0 0 1]
//
// A single-period panel has no transitions and yields an empty mask.
func RenewalMask(periods, period int) []int {
	if periods < 2 {
		return []int{}
	}
	mask := make([]int, periods-1)
	if period < 1 {
		return mask
	}
	for j := range mask {
		if (j+2)%period == 0 {
			mask[j] = 1
		}
	}
	return mask
}

// flaggedCount returns the number of set entries in mask.
func flaggedCount(mask []int) int {
	var n int
	for _, m := range mask {
		if m != 0 {
			n++
		}
	}
	return n
}
