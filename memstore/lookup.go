package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/andreiashu/geocascade"
)

// matchesRef reports whether a constraint given as a code or a name selects
// an entry with the given code and name. An empty constraint selects everything.
func matchesRef(ref, code, name string) bool {
	ref = strings.TrimSpace(ref)
	return ref == "" || strings.EqualFold(ref, code) || strings.EqualFold(ref, name)
}

func (s *Store) inCountry(o office, ref string) bool {
	return matchesRef(ref, s.names.get(o.countryCode), s.names.get(o.country))
}

func (s *Store) inState(o office, ref string) bool {
	return matchesRef(ref, s.names.get(o.stateCode), s.names.get(o.state))
}

func (s *Store) inDistrict(o office, ref string) bool {
	return matchesRef(ref, "", s.names.get(o.district))
}

// suggestLevel runs prefix search on ix and turns each matching name into a suggestion
// built from the first office that satisfies keep.
func (s *Store) suggestLevel(ctx context.Context, ix *nameIndex, prefix string, keep func(office) bool, mk func(name string, o office) geocascade.Suggestion) ([]geocascade.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []geocascade.Suggestion
	for _, m := range ix.search(prefix, s.cfg.FuzzyDistance) {
		for _, i := range ix.hits[m.key] {
			o := s.offices[i]
			if !keep(o) {
				continue
			}
			sg := mk(ix.display[m.key], o)
			sg.Relevance = m.score
			out = append(out, sg)
			break
		}
		if len(out) >= s.cfg.Limit {
			break
		}
	}
	return out, nil
}

// SuggestCountry implements geocascade.GeoLookupClient.
func (s *Store) SuggestCountry(ctx context.Context, prefix string) ([]geocascade.Suggestion, error) {
	return s.suggestLevel(ctx, &s.countries, prefix,
		func(office) bool { return true },
		func(name string, o office) geocascade.Suggestion {
			code := s.names.get(o.countryCode)
			return geocascade.Suggestion{ID: "country:" + code, Name: name, Code: code}
		})
}

// SuggestState implements geocascade.GeoLookupClient.
func (s *Store) SuggestState(ctx context.Context, prefix, countryCode string) ([]geocascade.Suggestion, error) {
	return s.suggestLevel(ctx, &s.states, prefix,
		func(o office) bool { return s.inCountry(o, countryCode) },
		func(name string, o office) geocascade.Suggestion {
			code := s.names.get(o.stateCode)
			return geocascade.Suggestion{
				ID:          "state:" + code,
				Name:        name,
				Code:        code,
				DisplayName: name + ", " + s.names.get(o.country),
			}
		})
}

// SuggestDistrict implements geocascade.GeoLookupClient.
func (s *Store) SuggestDistrict(ctx context.Context, prefix, stateCode string) ([]geocascade.Suggestion, error) {
	return s.suggestLevel(ctx, &s.districts, prefix,
		func(o office) bool { return s.inState(o, stateCode) },
		func(name string, o office) geocascade.Suggestion {
			state := s.names.get(o.state)
			return geocascade.Suggestion{
				ID:          "district:" + s.names.get(o.stateCode) + ":" + strings.ToLower(name),
				Name:        name,
				DisplayName: name + ", " + state,
				Extra:       &geocascade.Extra{State: state},
			}
		})
}

// SuggestCity implements geocascade.GeoLookupClient.
func (s *Store) SuggestCity(ctx context.Context, prefix, stateCode, district string) ([]geocascade.Suggestion, error) {
	return s.suggestLevel(ctx, &s.cities, prefix,
		func(o office) bool { return s.inState(o, stateCode) && s.inDistrict(o, district) },
		func(name string, o office) geocascade.Suggestion {
			d := s.names.get(o.district)
			return geocascade.Suggestion{
				ID:          "city:" + s.names.get(o.stateCode) + ":" + strings.ToLower(name),
				Name:        name,
				DisplayName: name + ", " + d,
				Extra:       &geocascade.Extra{District: d, State: s.names.get(o.state)},
			}
		})
}

// SuggestTaluk implements geocascade.LocalitySuggester.
func (s *Store) SuggestTaluk(ctx context.Context, prefix, district string) ([]geocascade.Suggestion, error) {
	return s.suggestLevel(ctx, &s.taluks, prefix,
		func(o office) bool { return s.inDistrict(o, district) },
		func(name string, o office) geocascade.Suggestion {
			d := s.names.get(o.district)
			return geocascade.Suggestion{
				ID:          "taluk:" + strings.ToLower(d) + ":" + strings.ToLower(name),
				Name:        name,
				DisplayName: name + ", " + d,
				Extra:       &geocascade.Extra{District: d, State: s.names.get(o.state)},
			}
		})
}

// SuggestLocality implements geocascade.LocalitySuggester. Localities are post offices.
func (s *Store) SuggestLocality(ctx context.Context, prefix, district, city string) ([]geocascade.Suggestion, error) {
	return s.suggestLevel(ctx, &s.localities, prefix,
		func(o office) bool { return s.inDistrict(o, district) && matchesRef(city, "", o.City) },
		func(name string, o office) geocascade.Suggestion {
			return geocascade.Suggestion{
				ID:          "locality:" + o.Pincode + ":" + strings.ToLower(name),
				Name:        name,
				DisplayName: fmt.Sprintf("%s (%s)", name, o.Pincode),
				Extra:       s.extra(o),
			}
		})
}

func (s *Store) extra(o office) *geocascade.Extra {
	return &geocascade.Extra{
		District:   s.names.get(o.district),
		State:      s.names.get(o.state),
		OfficeName: o.OfficeName,
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SuggestPincode implements geocascade.GeoLookupClient. A numeric prefix searches the
// codes themselves; any other text searches office, city, taluk and district names.
// One suggestion is returned per pincode.
func (s *Store) SuggestPincode(ctx context.Context, prefix, state, district string) ([]geocascade.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}

	scores := make(map[int]float64)
	if isDigits(prefix) {
		for j := sort.SearchStrings(s.pins, prefix); j < len(s.pins) && strings.HasPrefix(s.pins[j], prefix); j++ {
			score := scorePrefix
			if s.pins[j] == prefix {
				score = scoreExact
			}
			for _, i := range s.byPin[s.pins[j]] {
				scores[i] = score
			}
		}
	} else {
		for _, ix := range []*nameIndex{&s.localities, &s.cities, &s.taluks, &s.districts} {
			for _, m := range ix.search(prefix, 0) {
				for _, i := range ix.hits[m.key] {
					if m.score > scores[i] {
						scores[i] = m.score
					}
				}
			}
		}
	}

	idx := make([]int, 0, len(scores))
	for i := range scores {
		o := s.offices[i]
		if s.inState(o, state) && s.inDistrict(o, district) {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if scores[ia] != scores[ib] {
			return scores[ia] > scores[ib]
		}
		if pa, pb := s.offices[ia].Pincode, s.offices[ib].Pincode; pa != pb {
			return pa < pb
		}
		return ia < ib
	})

	var out []geocascade.Suggestion
	seen := make(map[string]bool)
	for _, i := range idx {
		o := s.offices[i]
		if seen[o.Pincode] {
			continue
		}
		seen[o.Pincode] = true
		out = append(out, geocascade.Suggestion{
			ID:          "pincode:" + o.Pincode,
			Name:        o.OfficeName,
			Code:        o.Pincode,
			DisplayName: o.Pincode + " - " + o.OfficeName,
			Relevance:   scores[i],
			Extra:       s.extra(o),
		})
		if len(out) >= s.cfg.Limit {
			break
		}
	}
	return out, nil
}

// ResolvePincode implements geocascade.GeoLookupClient. When several offices share a
// code the first in directory order describes it.
func (s *Store) ResolvePincode(ctx context.Context, code string) (*geocascade.AddressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pin, err := geocascade.NormalizePincode(code)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}
	hits := s.byPin[pin]
	if len(hits) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", pin, geocascade.ErrNotFound)
	}
	return s.address(hits[0]), nil
}

func (s *Store) address(i int) *geocascade.AddressRecord {
	r := s.row(i)
	return &geocascade.AddressRecord{
		Country:     r.Country,
		CountryCode: r.CountryCode,
		State:       r.State,
		StateCode:   r.StateCode,
		District:    r.District,
		City:        r.City,
		Taluk:       r.Taluk,
		Locality:    r.OfficeName,
		Pincode:     r.Pincode,
		Latitude:    float64(r.Latitude),
		Longitude:   float64(r.Longitude),
	}
}
