package systems

import "github.com/pthm-cable/fieldworks/components"

// Neighbour offsets. Cardinal order is N, E, S, W; diagonal order is NE, SE,
// SW, NW. Expansion always visits a shuffled permutation of each set.
var (
	cardinalDirs = [4][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}
	diagonalDirs = [4][2]int{{1, -1}, {1, 1}, {-1, 1}, {-1, -1}}
)

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return z
}

// shuffledOrder returns a permutation of 0..3 derived from the cell, the
// tick and a salt. The same inputs always give the same order.
func shuffledOrder(c components.Cell, tick, salt uint64) [4]uint8 {
	h := mix64(uint64(uint32(c.X)) | uint64(uint32(c.Z))<<32 ^ mix64(tick^salt*0x9e3779b97f4a7c15))
	order := [4]uint8{0, 1, 2, 3}
	for i := 3; i > 0; i-- {
		n := uint64(i + 1)
		j := h % n
		h /= n
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// cellSetKey hashes a set of cells independent of order.
func cellSetKey(cells []components.Cell) uint64 {
	var sum, xor uint64
	for _, c := range cells {
		h := mix64(uint64(uint32(c.X)) | uint64(uint32(c.Z))<<32)
		sum += h
		xor ^= h
	}
	return mix64(sum ^ xor<<1 ^ uint64(len(cells)))
}
