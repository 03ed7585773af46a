package content

import (
	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

var biomeNames = map[spatial.Biome][]string{
	spatial.BiomeForest: {
		"Whispering Oak", "Mossy Hollow", "Fern Circle", "Hunter's Lodge",
		"Old Woodcutter's Hut", "Amber Grove", "Fallen Giant", "Owl Roost",
	},
	spatial.BiomePlains: {
		"Windmill Rise", "Shepherd's Rest", "Standing Stone", "Golden Field",
		"Crossroads Shrine", "Wild Horse Meadow", "Lone Barn", "Poppy Hill",
	},
	spatial.BiomeMountains: {
		"Eagle Spire", "Frozen Pass", "Miner's Camp", "Echo Cave",
		"Cliffside Monastery", "Iron Vein", "Cairn of Kings", "Glacier Lip",
	},
	spatial.BiomeDesert: {
		"Sunken Oasis", "Bleached Ribs", "Nomad Tent", "Glass Dunes",
		"Scorpion Pit", "Salt Flat Obelisk", "Mirage Well", "Caravan Ruin",
	},
	spatial.BiomeSwamp: {
		"Witch's Stilt House", "Drowned Chapel", "Bog Lantern", "Leech Pool",
		"Cypress Knot", "Peat Cutter's Shed", "Croaking Mire", "Sunken Idol",
	},
	spatial.BiomeRuins: {
		"Broken Colonnade", "Collapsed Library", "Forgotten Vault", "Headless Statue",
		"Overgrown Forum", "Shattered Gate", "Silent Bell Tower", "Mosaic Floor",
	},
}

var biomeDescriptions = map[spatial.Biome][]string{
	spatial.BiomeForest: {
		"Sunlight barely reaches the ground here.",
		"Birdsong stops abruptly as you approach.",
		"Fresh tracks lead deeper into the trees.",
		"Carvings on the bark are older than the village.",
	},
	spatial.BiomePlains: {
		"Grass ripples in waves all the way to the horizon.",
		"A worn path suggests frequent travellers.",
		"The wind carries the smell of rain and hay.",
		"Someone left an offering of wildflowers.",
	},
	spatial.BiomeMountains: {
		"The air is thin and biting cold.",
		"Loose scree shifts under every step.",
		"Far below, clouds drift through the valley.",
		"Old pickaxe marks scar the rock face.",
	},
	spatial.BiomeDesert: {
		"Heat shimmers over the sand.",
		"Half-buried pottery pokes out of the dunes.",
		"The night here is said to be deadly cold.",
		"Wind has sculpted the stone into strange shapes.",
	},
	spatial.BiomeSwamp: {
		"Bubbles rise from the black water.",
		"Something large moves just below the surface.",
		"Fog clings to everything like wet wool.",
		"Lanterns flicker where no one should be.",
	},
	spatial.BiomeRuins: {
		"Inscriptions in a forgotten script cover the walls.",
		"Roots have split the ancient stonework.",
		"Footsteps echo far longer than they should.",
		"Faded murals depict a great flood.",
	},
}

var npcNames = []string{
	"Aldric", "Brenna", "Cedric", "Dagny", "Elowen", "Fenwick", "Gwyn", "Hollis",
	"Isolde", "Jorah", "Kestrel", "Lysander", "Maren", "Nyx", "Orrin", "Perrin",
}

var archetypeMoods = map[models.Archetype][]string{
	models.ArchetypeMerchant:   {"cheerful", "shrewd", "impatient", "eager"},
	models.ArchetypeGuard:      {"vigilant", "stern", "tired", "suspicious"},
	models.ArchetypeWanderer:   {"curious", "restless", "melancholy", "carefree"},
	models.ArchetypeQuestGiver: {"worried", "hopeful", "desperate", "determined"},
	models.ArchetypeSage:       {"serene", "contemplative", "cryptic", "patient"},
	models.ArchetypeMysterious: {"enigmatic", "watchful", "amused", "distant"},
}
