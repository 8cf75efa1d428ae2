package cluster

import (
	"sort"
	"strings"

	"github.com/TobiSchelling/reviewpulse/internal/textutil"
)

const (
	// SimilarityThreshold is the Jaccard score a candidate must exceed to join.
	SimilarityThreshold = 0.3
	// MinClusterSize is the smallest group that is emitted.
	MinClusterSize = 2
	// UncategorizedTopic labels a cluster whose keyword set is empty.
	UncategorizedTopic = "기타"

	topicKeywords   = 3
	clusterKeywords = 5
)

// Item is one review fed to the clustering engine.
type Item struct {
	ID     string
	Text   string
	Rating int
}

// Cluster is a topical group of at least MinClusterSize reviews.
type Cluster struct {
	Topic     string             `json:"topic"`
	Keywords  []string           `json:"keywords"`
	Reviews   []string           `json:"reviews"`
	ReviewIDs []string           `json:"review_ids"`
	Count     int                `json:"count"`
	Sentiment textutil.Sentiment `json:"sentiment"`
}

// Profile is the immutable per-item analysis computed in phase one.
type Profile struct {
	Item      Item
	Keywords  []string
	Sentiment textutil.Sentiment
}

// Assignment maps an item ID to the index of the candidate group it joined.
// Items left in singleton groups are present too; only emitted clusters
// survive into the output.
type Assignment map[string]int

// Profiles runs keyword extraction and sentiment tagging for every item.
func Profiles(items []Item) []Profile {
	out := make([]Profile, len(items))
	for i, it := range items {
		out[i] = Profile{
			Item:      it,
			Keywords:  textutil.ExtractKeywords(it.Text),
			Sentiment: textutil.TagSentiment(it.Text),
		}
	}
	return out
}

// Candidate is a group grown during phase two. Members index into the
// profile slice; Keywords is the insertion-ordered union of member keywords.
type Candidate struct {
	Members  []int
	Keywords []string
	set      map[string]struct{}
}

func (g *Candidate) absorb(keywords []string) {
	for _, k := range keywords {
		if _, ok := g.set[k]; !ok {
			g.set[k] = struct{}{}
			g.Keywords = append(g.Keywords, k)
		}
	}
}

// Assign runs the greedy single pass over profiles. Each unassigned item
// seeds a group and pulls in every later unassigned item whose keyword set
// is more than SimilarityThreshold similar to the group's running set. The
// running set grows as members join, so the result depends on input order.
func Assign(profiles []Profile) (Assignment, []*Candidate) {
	assigned := make(Assignment, len(profiles))
	done := make([]bool, len(profiles))
	var groups []*Candidate

	for i, p := range profiles {
		if done[i] {
			continue
		}
		g := &Candidate{set: make(map[string]struct{})}
		g.absorb(p.Keywords)
		g.Members = append(g.Members, i)
		done[i] = true
		assigned[p.Item.ID] = len(groups)

		for j, other := range profiles {
			if done[j] {
				continue
			}
			if textutil.Jaccard(g.set, textutil.SetOf(other.Keywords)) > SimilarityThreshold {
				g.Members = append(g.Members, j)
				done[j] = true
				assigned[other.Item.ID] = len(groups)
				g.absorb(other.Keywords)
			}
		}
		groups = append(groups, g)
	}
	return assigned, groups
}

// Run clusters items and returns clusters of at least MinClusterSize,
// largest first. Identical input always yields identical output.
func Run(items []Item) []Cluster {
	profiles := Profiles(items)
	_, groups := Assign(profiles)

	var clusters []Cluster
	for _, g := range groups {
		if len(g.Members) < MinClusterSize {
			continue
		}
		clusters = append(clusters, build(profiles, g))
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Count > clusters[j].Count
	})
	return clusters
}

func build(profiles []Profile, g *Candidate) Cluster {
	c := Cluster{Count: len(g.Members)}
	votes := make(map[textutil.Sentiment]int)
	freq := make(map[string]int)
	for _, idx := range g.Members {
		p := profiles[idx]
		c.Reviews = append(c.Reviews, p.Item.Text)
		c.ReviewIDs = append(c.ReviewIDs, p.Item.ID)
		votes[p.Sentiment]++
		for _, k := range p.Keywords {
			freq[k]++
		}
	}

	c.Topic = UncategorizedTopic
	if len(g.Keywords) > 0 {
		n := min(topicKeywords, len(g.Keywords))
		c.Topic = strings.Join(g.Keywords[:n], ", ")
	}

	ranked := append([]string(nil), g.Keywords...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return freq[ranked[i]] > freq[ranked[j]]
	})
	c.Keywords = ranked[:min(clusterKeywords, len(ranked))]

	c.Sentiment = textutil.Neutral
	best := -1
	for _, s := range textutil.SentimentOrder {
		if votes[s] > best {
			best = votes[s]
			c.Sentiment = s
		}
	}
	return c
}
