package memstore

import "fmt"

// stringInterner maps the heavily repeated directory strings (country, state and
// district names and codes) to small indexes. Index 0 is the empty string.
//
// A store interns while loading and only reads afterwards, so the interner itself
// carries no lock.
type stringInterner[T ~uint8 | ~uint16] struct {
	lookup []string
	index  map[string]T
}

func newStringInterner[T ~uint8 | ~uint16](capacity int) *stringInterner[T] {
	si := &stringInterner[T]{
		lookup: make([]string, 1, capacity),
		index:  make(map[string]T, capacity),
	}
	si.index[""] = 0
	return si
}

// intern returns the index for s, adding it if needed.
func (si *stringInterner[T]) intern(s string) (T, error) {
	if idx, ok := si.index[s]; ok {
		return idx, nil
	}
	maxVal := int(^T(0))
	if len(si.lookup) > maxVal {
		return 0, fmt.Errorf("string table full: %d entries (max %d)", len(si.lookup), maxVal)
	}
	idx := T(len(si.lookup))
	si.lookup = append(si.lookup, s)
	si.index[s] = idx
	return idx, nil
}

// get returns the string for idx, or "" if out of bounds.
func (si *stringInterner[T]) get(idx T) string {
	if int(idx) < len(si.lookup) {
		return si.lookup[idx]
	}
	return ""
}

func (si *stringInterner[T]) count() int { return len(si.lookup) }
