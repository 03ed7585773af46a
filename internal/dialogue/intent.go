package dialogue

import (
	"regexp"
	"strconv"
	"strings"
)

// Category is the keyword class of an utterance
type Category string

const (
	CategoryGreeting Category = "greeting"
	CategoryFarewell Category = "farewell"
	CategoryHelp     Category = "help"
	CategoryQuestion Category = "question"
	CategoryOther    Category = "other"
)

// Keyword sets in match priority order
var keywordSets = []struct {
	category Category
	words    []string
}{
	{CategoryFarewell, []string{"goodbye", "bye", "farewell", "see you", "later"}},
	{CategoryGreeting, []string{"hello", "hi ", "hey", "greetings", "good morning", "good evening", "well met"}},
	{CategoryHelp, []string{"help", "quest", "task", "work", "need", "lost"}},
	{CategoryQuestion, []string{"?", "what", "where", "who", "why", "how", "when", "tell me"}},
}

var actionForCategory = map[Category]string{
	CategoryGreeting: "greet",
	CategoryFarewell: "farewell",
	CategoryHelp:     "ask",
	CategoryQuestion: "ask",
	CategoryOther:    "talk",
}

var stopwords = map[string]bool{
	"about": true, "there": true, "their": true, "would": true, "could": true,
	"should": true, "where": true, "which": true, "these": true, "those": true,
	"hello": true, "greetings": true, "goodbye": true, "farewell": true, "tell": true,
	"what": true, "have": true, "with": true, "from": true, "this": true, "that": true,
	"your": true, "know": true, "anything": true,
}

var wordPattern = regexp.MustCompile(`[a-z][a-z'-]+`)

// Intent is what the router extracts from one utterance
type Intent struct {
	Category Category
	// Action is the verb recorded in NPC memory: greet, farewell, ask, talk or a slash command verb
	Action string
	// Params holds slash command arguments; positional ones are keyed "0", "1", ...
	Params map[string]string
	Topics []string
	Text   string
}

// IntentParser classifies utterances and recognises slash commands such as "/gift apple"
type IntentParser struct {
	commandPattern *regexp.Regexp
}

func NewIntentParser() *IntentParser {
	return &IntentParser{
		commandPattern: regexp.MustCompile(`^/(\w+)(?:\s+(.+))?$`),
	}
}

// Parse classifies an utterance
func (p *IntentParser) Parse(utterance string) Intent {
	trimmed := strings.TrimSpace(utterance)
	in := Intent{Text: trimmed}

	if match := p.commandPattern.FindStringSubmatch(trimmed); match != nil {
		in.Category = CategoryOther
		in.Action = strings.ToLower(match[1])
		if len(match) > 2 && match[2] != "" {
			in.Params = parseParams(match[2])
			in.Text = match[2]
		}
		in.Topics = extractTopics(in.Text)
		return in
	}

	in.Category = Classify(trimmed)
	in.Action = actionForCategory[in.Category]
	in.Topics = extractTopics(trimmed)
	return in
}

// Classify does lower-case substring matching against the keyword sets
func Classify(text string) Category {
	lower := " " + strings.ToLower(text) + " "
	for _, set := range keywordSets {
		for _, w := range set.words {
			if strings.Contains(lower, w) {
				return set.category
			}
		}
	}
	return CategoryOther
}

func parseParams(params string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Fields(params) {
		if idx := strings.Index(part, "="); idx > 0 {
			result[part[:idx]] = part[idx+1:]
		} else {
			result[strconv.Itoa(len(result))] = part
		}
	}
	return result
}

// extractTopics returns up to three distinct content words of five letters or more
func extractTopics(text string) []string {
	var topics []string
	seen := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		w = strings.Trim(w, "'-")
		if len(w) < 5 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		topics = append(topics, w)
		if len(topics) == 3 {
			break
		}
	}
	return topics
}
