package digest

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/marketnews/pkg/consensus"
)

// Analysis is one stored provider analysis as seen by the ranker.
type Analysis struct {
	Provider       string
	Sentiment      string
	SentimentScore *float64
	ImpactScore    *float64
}

// Candidate is an item created inside the digest period.
type Candidate struct {
	ItemID      int64
	Title       string
	Source      string
	URL         string
	PublishedAt *time.Time
	Analyses    []Analysis
}

// Entry is a ranked digest line.
type Entry struct {
	ItemID        int64      `json:"item_id"`
	Rank          int        `json:"rank"`
	Title         string     `json:"title"`
	Source        string     `json:"source"`
	URL           string     `json:"url"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Sentiment     string     `json:"sentiment"`
	AvgSentiment  float64    `json:"avg_sentiment_score"`
	AvgImpact     float64    `json:"avg_impact_score"`
	Strength      float64    `json:"sentiment_strength"`
	Consensus     bool       `json:"consensus"`
	AnalysisCount int        `json:"analysis_count"`
}

// consensusMin is the number of analyses needed before agreement counts.
const consensusMin = 3

// Rank scores candidates and orders them by consensus, sentiment strength,
// average impact and recency, all descending. Items without analyses or
// without any sentiment or impact scores are dropped. Ranks are 1-based.
func Rank(cands []Candidate) []Entry {
	entries := make([]Entry, 0, len(cands))
	for _, c := range cands {
		if len(c.Analyses) == 0 {
			continue
		}

		labels := make([]string, 0, len(c.Analyses))
		sentiments := make([]*float64, 0, len(c.Analyses))
		impacts := make([]*float64, 0, len(c.Analyses))
		for _, a := range c.Analyses {
			labels = append(labels, a.Sentiment)
			sentiments = append(sentiments, a.SentimentScore)
			impacts = append(impacts, a.ImpactScore)
		}

		avgSentiment, ok := average(sentiments)
		if !ok {
			continue
		}
		avgImpact, ok := average(impacts)
		if !ok {
			continue
		}

		counts := consensus.Counts(labels)
		leader, _ := consensus.Leader(labels)
		if leader == "" {
			leader = "neutral"
		}

		entries = append(entries, Entry{
			ItemID:        c.ItemID,
			Title:         c.Title,
			Source:        c.Source,
			URL:           c.URL,
			PublishedAt:   c.PublishedAt,
			Sentiment:     Capitalize(leader),
			AvgSentiment:  avgSentiment,
			AvgImpact:     avgImpact,
			Strength:      math.Abs(avgSentiment),
			Consensus:     len(counts) == 1 && len(c.Analyses) >= consensusMin,
			AnalysisCount: len(c.Analyses),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Consensus != b.Consensus {
			return a.Consensus
		}
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		if a.AvgImpact != b.AvgImpact {
			return a.AvgImpact > b.AvgImpact
		}
		ta, tb := publishedOrZero(a.PublishedAt), publishedOrZero(b.PublishedAt)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ItemID < b.ItemID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

func average(vals []*float64) (float64, bool) {
	var sum float64
	n := 0
	for _, v := range vals {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func publishedOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
