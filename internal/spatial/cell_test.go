package spatial

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestCellOfFloorsNegativeCoordinates(t *testing.T) {
	cases := []struct {
		pos  Vec3
		want CellID
	}{
		{Vec3{X: 0, Z: 0}, CellID{0, 0}},
		{Vec3{X: 99.9, Z: 0.1}, CellID{0, 0}},
		{Vec3{X: 100, Z: 100}, CellID{1, 1}},
		{Vec3{X: -0.5, Z: -100}, CellID{-1, -1}},
		{Vec3{X: -100.01, Z: 250}, CellID{-2, 2}},
	}
	for _, tc := range cases {
		if got := CellOf(tc.pos, 100); got != tc.want {
			t.Fatalf("CellOf(%v) = %v, want %v", tc.pos, got, tc.want)
		}
	}
}

func TestParseCellID(t *testing.T) {
	id, err := ParseCellID("3,-2")
	if err != nil {
		t.Fatalf("ParseCellID: %v", err)
	}
	if id != (CellID{X: 3, Z: -2}) {
		t.Fatalf("got %v", id)
	}
	if id.Key() != "3,-2" {
		t.Fatalf("Key() = %q", id.Key())
	}

	for _, bad := range []string{"", "3", "3,", ",2", "a,b", "3, 2", "3,2,1", "+3,2", "3.5,2", "--1,2"} {
		if _, err := ParseCellID(bad); !errors.Is(err, ErrMalformedCellID) {
			t.Fatalf("ParseCellID(%q) err = %v, want ErrMalformedCellID", bad, err)
		}
	}
}

func TestNeighborsExcludesSelf(t *testing.T) {
	c := CellID{X: 5, Z: -5}
	ns := Neighbors(c)
	if len(ns) != 8 {
		t.Fatalf("len = %d", len(ns))
	}
	seen := map[CellID]bool{}
	for _, n := range ns {
		if n == c {
			t.Fatalf("neighbors contains self")
		}
		if math.Abs(float64(n.X-c.X)) > 1 || math.Abs(float64(n.Z-c.Z)) > 1 {
			t.Fatalf("neighbor %v out of Moore neighbourhood", n)
		}
		seen[n] = true
	}
	if len(seen) != 8 {
		t.Fatalf("duplicate neighbors: %v", ns)
	}
}

func TestCellsInRadius(t *testing.T) {
	got := CellsInRadius(CellID{0, 0}, 1)
	want := []CellID{
		{-1, -1}, {0, -1}, {1, -1},
		{-1, 0}, {0, 0}, {1, 0},
		{-1, 1}, {0, 1}, {1, 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CellsInRadius r=1:\n got %v\nwant %v", got, want)
	}
	if n := len(CellsInRadius(CellID{7, 7}, 2)); n != 25 {
		t.Fatalf("r=2 size = %d, want 25", n)
	}
	if n := len(CellsInRadius(CellID{7, 7}, 0)); n != 1 {
		t.Fatalf("r=0 size = %d, want 1", n)
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(CellID{0, 0}, CellID{3, 4}); d != 5 {
		t.Fatalf("Distance = %v", d)
	}
	if d := Distance(CellID{-1, -1}, CellID{-1, -1}); d != 0 {
		t.Fatalf("Distance = %v", d)
	}
}

func TestBiomeIsDeterministicAndRegional(t *testing.T) {
	a := BiomeOf(CellID{3, -2})
	for i := 0; i < 10; i++ {
		if BiomeOf(CellID{3, -2}) != a {
			t.Fatalf("biome not stable")
		}
	}
	// Cells in the same 4x4 region share a biome.
	if BiomeOf(CellID{0, 0}) != BiomeOf(CellID{3, 3}) {
		t.Fatalf("region biome mismatch")
	}
	if BiomeOf(CellID{-1, -1}) != BiomeOf(CellID{-4, -4}) {
		t.Fatalf("negative region biome mismatch")
	}
}

func TestHash32MatchesFNV1a(t *testing.T) {
	// Reference values for 32-bit FNV-1a.
	if h := Hash32(""); h != 2166136261 {
		t.Fatalf("Hash32(\"\") = %d", h)
	}
	if h := Hash32("a"); h != 0xe40c292c {
		t.Fatalf("Hash32(\"a\") = %#x", h)
	}
}

func TestBoundsChecks(t *testing.T) {
	if _, err := ParseCellID("2147483647,-2147483647"); err != nil {
		t.Fatalf("edge cell rejected: %v", err)
	}
	for _, key := range []string{"2147483648,0", "0,-9223372036854775807"} {
		if _, err := ParseCellID(key); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("ParseCellID(%q) err = %v, want ErrOutOfBounds", key, err)
		}
	}

	tests := []struct {
		pos Vec3
		ok  bool
	}{
		{Vec3{X: 50, Z: -50}, true},
		{Vec3{X: -1e9, Y: 3, Z: 1e9}, true},
		{Vec3{X: 1e300}, false},
		{Vec3{Z: -1e12}, false},
		{Vec3{X: math.NaN()}, false},
		{Vec3{Y: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		err := CheckPosition(tt.pos, 100)
		if (err == nil) != tt.ok {
			t.Errorf("CheckPosition(%+v) = %v, want ok=%v", tt.pos, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("CheckPosition(%+v) err = %v, want ErrOutOfBounds", tt.pos, err)
		}
		if err == nil && !CellOf(tt.pos, 100).InBounds() {
			t.Errorf("accepted %+v maps outside bounds", tt.pos)
		}
	}
}
