package content

import (
	"livingworld/server/internal/spatial"
)

// Mulberry32 is a 32-bit PRNG with a single word of state.
// Outputs are in [0,1) and identical to the common JavaScript formulation.
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 seeds the generator
func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// SeedForCell hashes the cell key with FNV-1a
func SeedForCell(id spatial.CellID) uint32 {
	return spatial.Hash32(id.Key())
}

// Float64 returns the next value in [0,1)
func (m *Mulberry32) Float64() float64 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return float64(t^t>>14) / 4294967296.0
}

// Intn returns floor(r*n) for the next draw r
func (m *Mulberry32) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(m.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

func pick[T any](r *Mulberry32, items []T) T {
	return items[r.Intn(len(items))]
}
