package spatial

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMalformedCellID is returned when a cell key does not match "x,z".
	ErrMalformedCellID = errors.New("malformed cell id")
	// ErrOutOfBounds is returned for positions and cell ids beyond MaxCellCoord.
	ErrOutOfBounds = errors.New("outside world bounds")
)

// MaxCellCoord is the largest absolute cell coordinate. Radius and neighbour
// arithmetic around any valid cell stays far from int overflow.
const MaxCellCoord = math.MaxInt32

var cellKeyPattern = regexp.MustCompile(`^-?\d+,-?\d+$`)

// CellID identifies one square cell of the world grid.
type CellID struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Vec3 is a world-space position. Y is carried for clients but ignored by the grid.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Key returns the stable "x,z" string form of the cell id.
func (c CellID) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Z)
}

func (c CellID) String() string {
	return c.Key()
}

// ParseCellID parses an "x,z" key. Anything else is rejected.
func ParseCellID(key string) (CellID, error) {
	if !cellKeyPattern.MatchString(key) {
		return CellID{}, fmt.Errorf("%w: %q", ErrMalformedCellID, key)
	}
	parts := strings.SplitN(key, ",", 2)
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return CellID{}, fmt.Errorf("%w: %q", ErrMalformedCellID, key)
	}
	z, err := strconv.Atoi(parts[1])
	if err != nil {
		return CellID{}, fmt.Errorf("%w: %q", ErrMalformedCellID, key)
	}
	id := CellID{X: x, Z: z}
	if !id.InBounds() {
		return CellID{}, fmt.Errorf("%w: %q", ErrOutOfBounds, key)
	}
	return id, nil
}

// InBounds reports whether both coordinates are within MaxCellCoord.
func (c CellID) InBounds() bool {
	return c.X >= -MaxCellCoord && c.X <= MaxCellCoord && c.Z >= -MaxCellCoord && c.Z <= MaxCellCoord
}

// CheckPosition rejects non-finite positions and positions whose cell would
// fall outside MaxCellCoord.
func CheckPosition(pos Vec3, cellSize float64) error {
	for _, v := range [...]float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrOutOfBounds)
		}
	}
	limit := cellSize * MaxCellCoord
	if math.Abs(pos.X) >= limit || math.Abs(pos.Z) >= limit {
		return fmt.Errorf("%w: (%g, %g)", ErrOutOfBounds, pos.X, pos.Z)
	}
	return nil
}

// CellOf maps a world position to the cell containing it.
func CellOf(pos Vec3, cellSize float64) CellID {
	return CellID{
		X: int(math.Floor(pos.X / cellSize)),
		Z: int(math.Floor(pos.Z / cellSize)),
	}
}

// Neighbors returns the 8 surrounding cells, excluding c itself.
func Neighbors(c CellID) []CellID {
	out := make([]CellID, 0, 8)
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dz == 0 {
				continue
			}
			out = append(out, CellID{X: c.X + dx, Z: c.Z + dz})
		}
	}
	return out
}

// CellsInRadius returns the (2r+1)^2 cells of the square around c, centre included.
// No bounds filtering is applied.
func CellsInRadius(c CellID, r int) []CellID {
	if r < 0 {
		r = 0
	}
	side := 2*r + 1
	out := make([]CellID, 0, side*side)
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			out = append(out, CellID{X: c.X + dx, Z: c.Z + dz})
		}
	}
	return out
}

// Distance is the Euclidean distance between two cells in cell units.
func Distance(a, b CellID) float64 {
	dx := float64(a.X - b.X)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// Bounds returns the world-space origin of the cell along with its edge length.
func Bounds(c CellID, cellSize float64) (originX, originZ, size float64) {
	return float64(c.X) * cellSize, float64(c.Z) * cellSize, cellSize
}

// Contains reports whether pos lies inside cell c.
func Contains(c CellID, pos Vec3, cellSize float64) bool {
	return CellOf(pos, cellSize) == c
}

// Hash32 is FNV-1a over the bytes of s.
func Hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// DistanceXZ is the horizontal distance between two world positions.
func DistanceXZ(a, b Vec3) float64 {
	return math.Hypot(a.X-b.X, a.Z-b.Z)
}
