package geocascade

import (
	"context"
	"log/slog"
	"strings"

	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/internal/metrics"
)

// Candidate-count thresholds for the resolver's decision.
const (
	// MaxSuggestedPincodes is the largest candidate set offered as a suggestion list.
	MaxSuggestedPincodes = 8
	// UnfilteredCap bounds the fallback set used when the relevance filter keeps nothing.
	UnfilteredCap = 10
	// fallbackPrefixLen is how much of the city name the loosest strategy searches with.
	fallbackPrefixLen = 3
)

// MatchStrategy names the search that produced a candidate set.
type MatchStrategy int

const (
	StrategyNone MatchStrategy = iota
	CityFiltered
	DistrictFiltered
	PrefixFallback
)

func (s MatchStrategy) String() string {
	switch s {
	case CityFiltered:
		return "city-filtered"
	case DistrictFiltered:
		return "district-filtered"
	case PrefixFallback:
		return "prefix-fallback"
	}
	return "none"
}

// Decision is what the coordinator does with a candidate set.
type Decision int

const (
	// DecisionManualEntry: nothing found, the user types the pincode.
	DecisionManualEntry Decision = iota
	// DecisionAutoCommit: exactly one candidate, committed without user interaction.
	DecisionAutoCommit
	// DecisionSuggest: a short list is offered in the pincode dropdown.
	DecisionSuggest
	// DecisionNarrowSearch: too many candidates to be useful.
	DecisionNarrowSearch
)

func (d Decision) String() string {
	switch d {
	case DecisionAutoCommit:
		return "auto-commit"
	case DecisionSuggest:
		return "suggest"
	case DecisionNarrowSearch:
		return "narrow-search"
	}
	return "manual-entry"
}

// decide maps a candidate count to a Decision.
func decide(n int) Decision {
	switch {
	case n == 0:
		return DecisionManualEntry
	case n == 1:
		return DecisionAutoCommit
	case n <= MaxSuggestedPincodes:
		return DecisionSuggest
	}
	return DecisionNarrowSearch
}

// ResolveInput is the partially committed address a pincode is searched for.
type ResolveInput struct {
	State    string
	District string
	City     string
}

func inputFromRecord(r LocationRecord) ResolveInput {
	return ResolveInput{State: r.State, District: r.District, City: r.City}
}

// Strategy is one search of the resolver pipeline. Prefix derives the search text
// from the input; an empty prefix skips the strategy.
type Strategy struct {
	Kind   MatchStrategy
	Prefix func(ResolveInput) string
}

// DefaultStrategies returns the staged searches, tightest first: the city name, the
// district name, then the first three characters of the city name.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Kind: CityFiltered, Prefix: func(in ResolveInput) string { return in.City }},
		{Kind: DistrictFiltered, Prefix: func(in ResolveInput) string { return in.District }},
		{Kind: PrefixFallback, Prefix: func(in ResolveInput) string {
			r := []rune(strings.TrimSpace(in.City))
			if len(r) > fallbackPrefixLen {
				r = r[:fallbackPrefixLen]
			}
			return string(r)
		}},
	}
}

// PincodeCandidateSet is the outcome of one resolver run.
type PincodeCandidateSet struct {
	Candidates []Suggestion
	Strategy   MatchStrategy
	// Filtered is false when the relevance filter kept nothing and the capped raw set is used.
	Filtered bool
	Decision Decision
}

// PincodeResolver finds plausible pincodes for an address that has none.
// It is stateless and safe for concurrent use.
type PincodeResolver struct {
	client     GeoLookupClient
	strategies []Strategy
	log        *slog.Logger
}

// NewPincodeResolver builds a resolver. With no strategies, DefaultStrategies is used.
func NewPincodeResolver(client GeoLookupClient, l *slog.Logger, strategies ...Strategy) *PincodeResolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if l == nil {
		l = logger.L()
	}
	return &PincodeResolver{client: client, strategies: strategies, log: l}
}

// Resolve runs the strategies in order and stops at the first that returns anything.
// A failing strategy counts as empty. The only error returned is ctx's.
func (r *PincodeResolver) Resolve(ctx context.Context, in ResolveInput) (PincodeCandidateSet, error) {
	var (
		set PincodeCandidateSet
		raw []Suggestion
	)
	for _, s := range r.strategies {
		prefix := strings.TrimSpace(s.Prefix(in))
		if prefix == "" {
			continue
		}
		res, err := r.client.SuggestPincode(ctx, prefix, in.State, in.District)
		if err != nil {
			if ctx.Err() != nil {
				return PincodeCandidateSet{}, ctx.Err()
			}
			r.log.Warn("pincode_strategy_failed", "strategy", s.Kind.String(), "prefix", prefix, "err", err)
			continue
		}
		if len(res) > 0 {
			set.Strategy = s.Kind
			raw = res
			break
		}
	}

	if len(raw) > 0 {
		set.Candidates = RelevanceFilter(raw, in.City, in.District)
		set.Filtered = len(set.Candidates) > 0
		if !set.Filtered {
			set.Candidates = raw
			if len(set.Candidates) > UnfilteredCap {
				set.Candidates = set.Candidates[:UnfilteredCap]
			}
		}
		set.Candidates = uniqueByCode(set.Candidates)
	}
	set.Decision = decide(len(set.Candidates))

	metrics.PincodeResolutionsTotal.WithLabelValues(set.Strategy.String(), set.Decision.String()).Inc()
	r.log.Debug("pincode_resolved",
		"city", in.City,
		"district", in.District,
		"strategy", set.Strategy.String(),
		"candidates", len(set.Candidates),
		"decision", set.Decision.String(),
	)
	return set, nil
}

// RelevanceFilter keeps the entries whose district, office name or locality text and the
// city or district name contain one another, ignoring case. Order is preserved.
func RelevanceFilter(entries []Suggestion, city, district string) []Suggestion {
	terms := make([]string, 0, 2)
	for _, t := range []string{city, district} {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return nil
	}

	var out []Suggestion
	for _, e := range entries {
		if relevant(e, terms) {
			out = append(out, e)
		}
	}
	return out
}

func relevant(e Suggestion, terms []string) bool {
	texts := []string{e.Name}
	if e.Extra != nil {
		texts = append(texts, e.Extra.District, e.Extra.OfficeName)
	}
	for _, text := range texts {
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			continue
		}
		for _, t := range terms {
			if strings.Contains(text, t) || strings.Contains(t, text) {
				return true
			}
		}
	}
	return false
}

// uniqueByCode drops later entries that repeat a postal code already seen.
func uniqueByCode(in []Suggestion) []Suggestion {
	seen := make(map[string]bool, len(in))
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		key := s.valueFor(Pincode)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
