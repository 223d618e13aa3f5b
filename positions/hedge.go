package positions

import "math"

// HedgeLots converts a quantity differential into whole lots, choosing
// between floor(diff/lot) and floor(diff/lot)+1 by absolute distance with
// ties going to the floor. For negative differentials this rounds ties away
// from zero.
func HedgeLots(diff, lot float64) int {
	if lot == 0 || math.IsNaN(diff) || math.IsInf(diff, 0) {
		return 0
	}
	n := diff / lot
	lo := math.Floor(n)
	if math.Abs(n-lo) <= math.Abs(lo+1-n) {
		return int(lo)
	}
	return int(lo + 1)
}

// VegaHedgeLots is the number of hedge lots that moves positionVega to
// targetVega when one lot carries lotVega.
func VegaHedgeLots(targetVega, positionVega, lotVega float64) int {
	return HedgeLots(targetVega-positionVega, lotVega)
}
