// Package consensus decides whether a set of per-provider analyses agrees
// strongly enough to fire a real-time alert.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const neutral = "neutral"

// Vote is the part of one provider's analysis the decision looks at.
type Vote struct {
	Provider  string
	Sentiment string
	Impact    *float64
}

// Decision is the outcome of Decide. Reason is meant for logs.
type Decision struct {
	Eligible    bool    `json:"eligible"`
	Leader      string  `json:"leader"` // lower-cased
	LeaderCount int     `json:"leader_count"`
	Required    int     `json:"required"`
	MinImpact   float64 `json:"min_impact"`
	Reason      string  `json:"reason"`
}

// Decide applies the alert rules in order, stopping at the first rejection:
// empty set, any impact below threshold, all neutral, two of three neutral,
// and finally a ceil(n/2) majority for the leading label.
func Decide(votes []Vote, threshold float64) Decision {
	if len(votes) == 0 {
		return Decision{Reason: "no analyses"}
	}

	minImpact := math.Inf(1)
	for _, v := range votes {
		minImpact = math.Min(minImpact, impactOrZero(v.Impact))
	}
	if minImpact < threshold {
		return Decision{
			MinImpact: minImpact,
			Reason:    fmt.Sprintf("impact threshold not met (min=%.2f, threshold=%.2f)", minImpact, threshold),
		}
	}

	labels := make([]string, len(votes))
	neutrals := 0
	for i, v := range votes {
		labels[i] = strings.ToLower(strings.TrimSpace(v.Sentiment))
		if labels[i] == neutral {
			neutrals++
		}
	}
	if neutrals == len(labels) {
		return Decision{MinImpact: minImpact, Reason: "all sentiments neutral"}
	}
	if len(labels) == 3 && neutrals >= 2 {
		return Decision{MinImpact: minImpact, Reason: "2 of 3 sentiments neutral"}
	}

	leader, count := Leader(labels)
	required := (len(labels) + 1) / 2
	d := Decision{
		Leader:      leader,
		LeaderCount: count,
		Required:    required,
		MinImpact:   minImpact,
	}
	if count < required {
		d.Reason = fmt.Sprintf("no majority (%s %d/%d, need %d)", leader, count, len(labels), required)
		return d
	}
	d.Eligible = true
	d.Reason = fmt.Sprintf("majority %s (%d/%d), min impact %.2f >= %.2f", leader, count, len(labels), minImpact, threshold)
	return d
}

// Leader returns the most frequent lower-cased non-empty label and its count.
// Ties go to the lexically smallest label. Returns ("", 0) for no labels.
func Leader(labels []string) (string, int) {
	counts := Counts(labels)
	if len(counts) == 0 {
		return "", 0
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	leader := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[leader] {
			leader = k
		}
	}
	return leader, counts[leader]
}

// Counts tallies lower-cased non-empty labels.
func Counts(labels []string) map[string]int {
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		counts[l]++
	}
	return counts
}

func impactOrZero(p *float64) float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0
	}
	return *p
}
