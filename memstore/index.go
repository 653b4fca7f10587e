package memstore

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Relevance scores by kind of match.
const (
	scoreExact      = 1.0
	scorePrefix     = 0.9
	scoreWordPrefix = 0.8
	scoreFuzzy      = 0.7 // scaled down by the edit distance
)

// minFuzzyQuery is the shortest query fuzzy matching is attempted for.
const minFuzzyQuery = 3

// nameIndex is an inverted index from a lowercase name to the offices carrying it,
// with the keys kept sorted for prefix search.
type nameIndex struct {
	keys    []string
	display map[string]string // key -> first spelling seen
	hits    map[string][]int  // key -> office indexes
}

func newNameIndex() nameIndex {
	return nameIndex{
		display: make(map[string]string),
		hits:    make(map[string][]int),
	}
}

func (ix *nameIndex) add(name string, i int) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	key := strings.ToLower(name)
	if _, ok := ix.hits[key]; !ok {
		ix.keys = append(ix.keys, key)
		ix.display[key] = name
	}
	ix.hits[key] = append(ix.hits[key], i)
}

func (ix *nameIndex) finish() { sort.Strings(ix.keys) }

// match is one indexed name found for a query.
type match struct {
	key   string
	score float64
}

// search returns the keys matching query: exact and prefix matches from the sorted
// keys, then names with a later word starting with the query, then names whose
// leading characters are within fuzzy edits of the query. Results are ordered by
// score, then key.
func (ix *nameIndex) search(query string, fuzzy int) []match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []match

	for i := sort.SearchStrings(ix.keys, q); i < len(ix.keys) && strings.HasPrefix(ix.keys[i], q); i++ {
		k := ix.keys[i]
		score := scorePrefix
		if k == q {
			score = scoreExact
		}
		seen[k] = true
		out = append(out, match{key: k, score: score})
	}

	for _, k := range ix.keys {
		if !seen[k] && strings.Contains(k, " "+q) {
			seen[k] = true
			out = append(out, match{key: k, score: scoreWordPrefix})
		}
	}

	qr := []rune(q)
	if fuzzy > 0 && len(qr) >= minFuzzyQuery {
		for _, k := range ix.keys {
			if seen[k] {
				continue
			}
			if d, ok := prefixDistance(qr, k, fuzzy); ok {
				seen[k] = true
				out = append(out, match{key: k, score: scoreFuzzy * (1 - float64(d)/float64(len(qr)))})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].key < out[j].key
	})
	return out
}

// prefixDistance compares q with the first len(q) runes of key. It reports the
// Levenshtein distance when it is within maxDist.
func prefixDistance(q []rune, key string, maxDist int) (int, bool) {
	kr := []rune(key)
	if len(kr) > len(q) {
		kr = kr[:len(q)]
	}
	d := levenshtein.ComputeDistance(string(q), string(kr))
	return d, d <= maxDist
}
