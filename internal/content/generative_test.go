package content

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"livingworld/server/internal/config"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/logging"
	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

type fakeText struct {
	out   string
	err   error
	calls int
	last  *interfaces.CompletionRequest
}

func (f *fakeText) Complete(_ context.Context, req *interfaces.CompletionRequest) (string, error) {
	f.calls++
	f.last = req
	return f.out, f.err
}

func testRequest() Request {
	id := spatial.CellID{X: 1, Z: 2}
	return Request{
		Cell:     id,
		Biome:    spatial.BiomeOf(id),
		CellSize: 100,
		Context: ContextBundle{
			Neighbors: []NeighborSummary{{ID: "0,2", Biome: spatial.BiomeForest, Status: models.CellReady, POINames: []string{"Owl Roost"}}},
			Events:    []string{"Ada discovered the Owl Roost"},
		},
	}
}

const validCell = `Here you go:
` + "```json" + `
{"pois":[{"type":"mystery","name":"Humming Stone","description":"It hums at dusk.","x":150,"z":250}],
 "npcs":[{"name":"Vell","archetype":"sage","mood":"serene","x":120.5,"z":280}]}
` + "```"

func TestGenerativeParsesValidOutput(t *testing.T) {
	ft := &fakeText{out: validCell}
	g := NewGenerative(ft, NewProcedural(), logging.Discard())
	c, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if c.Source != models.SourceGenerative {
		t.Fatalf("source = %s", c.Source)
	}
	if len(c.POIs) != 1 || c.POIs[0].ID != "poi_1_2_0" || c.POIs[0].Type != models.POIMystery || c.POIs[0].CellID != "1,2" {
		t.Fatalf("pois = %+v", c.POIs)
	}
	if len(c.NPCs) != 1 || c.NPCs[0].ID != "npc_1_2_0" || c.NPCs[0].Archetype != models.ArchetypeSage {
		t.Fatalf("npcs = %+v", c.NPCs)
	}
	if !ft.last.JSON || len(ft.last.Messages) != 2 {
		t.Fatalf("request = %+v", ft.last)
	}
	if !strings.Contains(ft.last.Messages[1].Content, "Owl Roost") {
		t.Fatalf("context bundle missing neighbour: %q", ft.last.Messages[1].Content)
	}
}

func TestGenerativeFallsBackOnFailure(t *testing.T) {
	req := testRequest()
	want := NewProcedural().Build(req.Cell, req.Biome, req.CellSize)

	cases := map[string]*fakeText{
		"backend error":  {err: errors.New("timeout")},
		"no json":        {out: "I cannot help with that."},
		"broken json":    {out: `{"pois": [`},
		"missing field":  {out: `{"pois":[{"type":"landmark","name":"A","description":"B","x":150,"z":250}]}`},
		"bad enum":       {out: `{"pois":[{"type":"castle","name":"A","description":"B","x":150,"z":250}],"npcs":[]}`},
		"no pois":        {out: `{"pois":[],"npcs":[]}`},
		"outside bounds": {out: `{"pois":[{"type":"landmark","name":"A","description":"B","x":999,"z":250}],"npcs":[]}`},
	}
	for name, ft := range cases {
		g := NewGenerative(ft, NewProcedural(), logging.Discard())
		got, err := g.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: error surfaced: %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: expected procedural fallback, got %+v", name, got)
		}
	}
}

func TestParseCellContentTypedError(t *testing.T) {
	_, err := ParseCellContent(`{"pois":"nope","npcs":[]}`, testRequest())
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"```\n{\"a\":1}\n```", `{"a":1}`, true},
		{`prefix {"a":{"b":2}} suffix`, `{"a":{"b":2}}`, true},
		{"no braces", "", false},
		{"} backwards {", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractJSON(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ExtractJSON(%q) = %q,%v", tc.in, got, ok)
		}
	}
}

func TestNewSelectsByCredentials(t *testing.T) {
	cfg := config.Default().AI
	if _, ok := New(cfg, &fakeText{}, logging.Discard()).(*Procedural); !ok {
		t.Fatalf("expected procedural without api key")
	}
	cfg.LLM.APIKey = "sk"
	if _, ok := New(cfg, &fakeText{}, logging.Discard()).(*Generative); !ok {
		t.Fatalf("expected generative with api key")
	}
	if _, ok := New(cfg, nil, logging.Discard()).(*Procedural); !ok {
		t.Fatalf("expected procedural without text generator")
	}
}

// blockingText never answers before its context ends
type blockingText struct{}

func (blockingText) Complete(ctx context.Context, _ *interfaces.CompletionRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGenerativeUsesConfiguredTimeout(t *testing.T) {
	cfg := config.Default().AI
	cfg.LLM.APIKey = "sk"
	cfg.LLM.Timeout = 30 * time.Millisecond

	g, ok := New(cfg, blockingText{}, logging.Discard()).(*Generative)
	if !ok {
		t.Fatal("expected generative generator")
	}
	if g.timeout != cfg.LLM.Timeout {
		t.Fatalf("timeout = %v, want %v", g.timeout, cfg.LLM.Timeout)
	}

	start := time.Now()
	c, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if c.Source != models.SourceProcedural {
		t.Fatalf("source = %s", c.Source)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("backend call not bounded by the configured timeout: %v", elapsed)
	}

	g.SetTimeout(0)
	if g.timeout != cfg.LLM.Timeout {
		t.Fatal("zero timeout replaced the configured one")
	}
}
