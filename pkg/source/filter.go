package source

import "strings"

// DefaultPaywallTopics mark an article as paywalled.
var DefaultPaywallTopics = []string{"paywall", "paylimitwall"}

// Filter drops paywalled articles and URLs that were already seen.
type Filter struct {
	paywall map[string]bool
}

// NewFilter creates a filter for the given paywall topics. An empty list
// uses DefaultPaywallTopics.
func NewFilter(paywallTopics []string) *Filter {
	if len(paywallTopics) == 0 {
		paywallTopics = DefaultPaywallTopics
	}
	f := &Filter{paywall: make(map[string]bool, len(paywallTopics))}
	for _, t := range paywallTopics {
		f.paywall[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return f
}

// Paywalled reports whether any topic is a paywall marker, ignoring case.
func (f *Filter) Paywalled(topics []string) bool {
	for _, t := range topics {
		if f.paywall[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}

// Stats counts what Apply dropped.
type Stats struct {
	Fetched    int
	Paywalled  int
	Duplicates int
	Kept       int
}

// Apply returns the articles that are not paywalled, not in existing and
// not repeated earlier in the batch. Input order is preserved.
func (f *Filter) Apply(articles []Article, existing map[string]bool) ([]Article, Stats) {
	st := Stats{Fetched: len(articles)}
	seen := make(map[string]bool, len(articles))
	kept := make([]Article, 0, len(articles))
	for _, a := range articles {
		switch {
		case a.URL == "":
			continue
		case f.Paywalled(a.Topics):
			st.Paywalled++
		case existing[a.URL] || seen[a.URL]:
			st.Duplicates++
		default:
			seen[a.URL] = true
			kept = append(kept, a)
		}
	}
	st.Kept = len(kept)
	return kept, st
}
