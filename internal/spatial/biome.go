package spatial

import "strconv"

// Biome is the terrain category of a cell.
type Biome string

const (
	BiomeForest    Biome = "forest"
	BiomePlains    Biome = "plains"
	BiomeMountains Biome = "mountains"
	BiomeDesert    Biome = "desert"
	BiomeSwamp     Biome = "swamp"
	BiomeRuins     Biome = "ruins"
)

// Biomes lists every biome in hash-index order.
var Biomes = []Biome{BiomeForest, BiomePlains, BiomeMountains, BiomeDesert, BiomeSwamp, BiomeRuins}

// biomeRegion is the edge length, in cells, of a region sharing one biome.
const biomeRegion = 4

// BiomeOf is a pure function of the cell id.
func BiomeOf(c CellID) Biome {
	rx := floorDiv(c.X, biomeRegion)
	rz := floorDiv(c.Z, biomeRegion)
	h := Hash32("biome:" + strconv.Itoa(rx) + "," + strconv.Itoa(rz))
	return Biomes[h%uint32(len(Biomes))]
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
