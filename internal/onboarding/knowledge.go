package onboarding

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var knowledgeYAML []byte

// Knowledge categories.
const (
	KnowledgeFAQ             = "faq"
	KnowledgeIntegration     = "integration"
	KnowledgeTroubleshooting = "troubleshooting"
	KnowledgeScripts         = "scripts"
	KnowledgePricing         = "pricing"
	KnowledgeProcess         = "process"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 5

// KnowledgeEntry is one article the agent and the help widget can cite.
type KnowledgeEntry struct {
	ID       string   `json:"id" yaml:"id"`
	Category string   `json:"category" yaml:"category"`
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

var loadKnowledge = sync.OnceValues(func() ([]KnowledgeEntry, error) {
	var entries []KnowledgeEntry
	if err := yaml.Unmarshal(knowledgeYAML, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Content = strings.TrimSpace(entries[i].Content)
	}
	return entries, nil
})

// Knowledge returns every entry of the bundled knowledge base.
func Knowledge() []KnowledgeEntry {
	entries, err := loadKnowledge()
	if err != nil {
		panic(fmt.Sprintf("onboarding: bundled knowledge base: %v", err))
	}
	return slices.Clone(entries)
}

// SearchKnowledge ranks entries against query. A title containing the
// whole query scores 10, each keyword found in the query 5, and each query
// word longer than two characters found in the content 1. Entries scoring
// zero are dropped.
func SearchKnowledge(query string, limit int) []KnowledgeEntry {
	return SearchKnowledgeIn(query, "", limit)
}

// SearchKnowledgeIn is SearchKnowledge restricted to one category before
// the limit applies. An empty category searches everything.
func SearchKnowledgeIn(query, category string, limit int) []KnowledgeEntry {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var words []string
	for _, w := range strings.Fields(q) {
		if len(w) > 2 {
			words = append(words, w)
		}
	}

	type scored struct {
		entry KnowledgeEntry
		score int
	}
	var hits []scored
	for _, e := range Knowledge() {
		if category != "" && e.Category != category {
			continue
		}
		score := 0
		if strings.Contains(strings.ToLower(e.Title), q) {
			score += 10
		}
		for _, k := range e.Keywords {
			if strings.Contains(q, k) {
				score += 5
			}
		}
		content := strings.ToLower(e.Content)
		for _, w := range words {
			if strings.Contains(content, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{e, score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.score - a.score })

	out := make([]KnowledgeEntry, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.entry)
	}
	return out
}

// KnowledgeByCategory returns the entries of one category.
func KnowledgeByCategory(category string) []KnowledgeEntry {
	var out []KnowledgeEntry
	for _, e := range Knowledge() {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// KnowledgeByID returns the entry with the given id.
func KnowledgeByID(id string) (KnowledgeEntry, bool) {
	for _, e := range Knowledge() {
		if e.ID == id {
			return e, true
		}
	}
	return KnowledgeEntry{}, false
}
