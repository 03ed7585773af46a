package dialogue

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"Hello!", CategoryGreeting},
		{"hi", CategoryGreeting},
		{"Well met, stranger", CategoryGreeting},
		{"Goodbye for now", CategoryFarewell},
		{"I need help finding my way", CategoryHelp},
		{"Any quest for me", CategoryHelp},
		{"Where is the river?", CategoryQuestion},
		{"tell me a story", CategoryQuestion},
		{"Nice hat", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	p := NewIntentParser()
	in := p.Parse("  /Gift silver-ring qty=2 ")
	if in.Action != "gift" {
		t.Fatalf("action = %q", in.Action)
	}
	if !reflect.DeepEqual(in.Params, map[string]string{"0": "silver-ring", "qty": "2"}) {
		t.Fatalf("params = %v", in.Params)
	}
	if !reflect.DeepEqual(in.Topics, []string{"silver-ring"}) {
		t.Fatalf("topics = %v", in.Topics)
	}
	if in := p.Parse("trade please"); in.Action == "trade" {
		t.Fatalf("plain text parsed as a command: %+v", in)
	}
}

func TestParseUtterance(t *testing.T) {
	in := NewIntentParser().Parse("Where did the caravan go after the flood?")
	if in.Category != CategoryQuestion || in.Action != "ask" {
		t.Fatalf("intent = %+v", in)
	}
	if !reflect.DeepEqual(in.Topics, []string{"caravan", "after", "flood"}) {
		t.Fatalf("topics = %v", in.Topics)
	}
	if in := NewIntentParser().Parse("nice weather"); in.Action != "talk" {
		t.Fatalf("action = %q", in.Action)
	}
}
