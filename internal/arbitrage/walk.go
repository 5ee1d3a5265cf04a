package arbitrage

import "github.com/northbeam/binarb/internal/domain"

// WalkLevels consumes ask levels on both sides, best-first, pairing level i
// of one side with level i of the other and matching min(up_size,
// down_size) shares at each level pair. It stops at the first level pair
// whose own margin, after the feeBpsTaker fee reserve, falls below
// minProfitMarginTick. It is the
// multi-level analogue of the top-of-book fast path in Detector, used when
// the top level alone is too thin (grounded on the original implementation's
// _walk_orderbooks).
//
// Levels must be sorted best-first (ascending price for asks).
func WalkLevels(upLevels, downLevels []domain.BookLevel, feeBpsTaker int64, minProfitMarginTick int64, maxLevels int) (sizeTick int64, avgUpTick int64, avgDownTick int64) {
	if maxLevels <= 0 || maxLevels > len(upLevels) {
		maxLevels = len(upLevels)
	}
	if maxLevels > len(downLevels) {
		maxLevels = len(downLevels)
	}

	var totalSize, totalUpCost, totalDownCost int64

	for i := 0; i < maxLevels; i++ {
		up := upLevels[i]
		down := downLevels[i]

		feeReserve := feeBpsTaker * (up.PriceTick + down.PriceTick) / 10_000
		marginTick := domain.TicksPerUnit - up.PriceTick - down.PriceTick - feeReserve
		if marginTick < minProfitMarginTick {
			break
		}

		levelSize := up.SizeTicks
		if down.SizeTicks < levelSize {
			levelSize = down.SizeTicks
		}
		if levelSize <= 0 {
			continue
		}

		totalSize += levelSize
		totalUpCost += levelSize * up.PriceTick
		totalDownCost += levelSize * down.PriceTick
	}

	if totalSize == 0 {
		return 0, 0, 0
	}
	return totalSize, totalUpCost / totalSize, totalDownCost / totalSize
}
