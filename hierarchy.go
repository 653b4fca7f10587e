package geocascade

import (
	"fmt"
	"strings"
)

// Field identifies one level of the address decomposition.
type Field int

const (
	Country Field = iota
	State
	District
	City
	Taluk
	Locality
	Pincode

	numFields = int(Pincode) + 1
)

var fieldNames = [numFields]string{"country", "state", "district", "city", "taluk", "locality", "pincode"}

func (f Field) String() string {
	if f.valid() {
		return fieldNames[f]
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

func (f Field) valid() bool { return f >= 0 && int(f) < numFields }

// ParseField maps a field name such as "district" back to its Field.
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range fieldNames {
		if name == s {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// AllFields returns every field in the default hierarchy order.
func AllFields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// FieldSpec is the static description of one hierarchy level.
type FieldSpec struct {
	Field       Field
	Label       string
	Placeholder string
	Required    bool
	DependsOn   []Field // fields ordered before this one that constrain its queries
}

// Hierarchy is a strict total order over a set of fields.
// It is immutable once built and safe for concurrent use.
type Hierarchy struct {
	specs []FieldSpec
	pos   map[Field]int
}

// NewHierarchy validates specs and builds a hierarchy in the given order.
// Every DependsOn entry must name a field positioned earlier in specs.
func NewHierarchy(specs ...FieldSpec) (*Hierarchy, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("hierarchy: no fields")
	}
	h := &Hierarchy{
		specs: make([]FieldSpec, len(specs)),
		pos:   make(map[Field]int, len(specs)),
	}
	for i, s := range specs {
		if !s.Field.valid() {
			return nil, fmt.Errorf("hierarchy: %w: %v", ErrUnknownField, s.Field)
		}
		if _, dup := h.pos[s.Field]; dup {
			return nil, fmt.Errorf("hierarchy: duplicate field %s", s.Field)
		}
		for _, dep := range s.DependsOn {
			p, ok := h.pos[dep]
			if !ok || p >= i {
				return nil, fmt.Errorf("hierarchy: %s depends on %s which is not ordered before it", s.Field, dep)
			}
		}
		s.DependsOn = append([]Field(nil), s.DependsOn...)
		h.specs[i] = s
		h.pos[s.Field] = i
	}
	return h, nil
}

func mustHierarchy(specs ...FieldSpec) *Hierarchy {
	h, err := NewHierarchy(specs...)
	if err != nil {
		panic(err)
	}
	return h
}

var defaultSpecs = map[Field]FieldSpec{
	Country:  {Field: Country, Label: "Country", Placeholder: "Search country", Required: true},
	State:    {Field: State, Label: "State", Placeholder: "Search state", Required: true, DependsOn: []Field{Country}},
	District: {Field: District, Label: "District", Placeholder: "Search district", Required: true, DependsOn: []Field{State}},
	City:     {Field: City, Label: "City", Placeholder: "Search city", Required: true, DependsOn: []Field{State, District}},
	Taluk:    {Field: Taluk, Label: "Taluk", Placeholder: "Search taluk", DependsOn: []Field{District}},
	Locality: {Field: Locality, Label: "Locality", Placeholder: "Search locality", DependsOn: []Field{District, City}},
	Pincode:  {Field: Pincode, Label: "Pincode", Placeholder: "6-digit pincode", Required: true, DependsOn: []Field{State, District}},
}

// DefaultHierarchy orders country < state < district < city < taluk < locality < pincode.
func DefaultHierarchy() *Hierarchy {
	specs := make([]FieldSpec, 0, numFields)
	for _, f := range AllFields() {
		specs = append(specs, defaultSpecs[f])
	}
	return mustHierarchy(specs...)
}

// PincodeFirstHierarchy promotes pincode to the front for postal-code-first entry.
// Pincode constrains nothing there; committing it back-fills the rest.
func PincodeFirstHierarchy() *Hierarchy {
	pin := defaultSpecs[Pincode]
	pin.DependsOn = nil
	specs := []FieldSpec{pin}
	for _, f := range AllFields()[:Pincode] {
		specs = append(specs, defaultSpecs[f])
	}
	return mustHierarchy(specs...)
}

// Fields returns the fields in hierarchy order.
func (h *Hierarchy) Fields() []Field {
	out := make([]Field, len(h.specs))
	for i, s := range h.specs {
		out[i] = s.Field
	}
	return out
}

// Spec returns the spec for f and whether f is part of the hierarchy.
func (h *Hierarchy) Spec(f Field) (FieldSpec, bool) {
	p, ok := h.pos[f]
	if !ok {
		return FieldSpec{}, false
	}
	s := h.specs[p]
	s.DependsOn = append([]Field(nil), s.DependsOn...)
	return s, true
}

// Contains reports whether f is part of the hierarchy.
func (h *Hierarchy) Contains(f Field) bool {
	_, ok := h.pos[f]
	return ok
}

// Position returns the index of f, or -1 if f is absent.
func (h *Hierarchy) Position(f Field) int {
	if p, ok := h.pos[f]; ok {
		return p
	}
	return -1
}

// Before reports whether a is ordered strictly before b. Absent fields are never before anything.
func (h *Hierarchy) Before(a, b Field) bool {
	pa, oka := h.pos[a]
	pb, okb := h.pos[b]
	return oka && okb && pa < pb
}

// Downstream returns every field positioned after f, nearest first.
func (h *Hierarchy) Downstream(f Field) []Field {
	p, ok := h.pos[f]
	if !ok {
		return nil
	}
	out := make([]Field, 0, len(h.specs)-p-1)
	for _, s := range h.specs[p+1:] {
		out = append(out, s.Field)
	}
	return out
}
