package types

import (
	"maps"
	"slices"
)

type FacetKind string

const (
	FacetOptions FacetKind = "options"
	FacetRange   FacetKind = "range"
)

// FacetDescriptor describes the legal values of a facet under one leaf category.
type FacetDescriptor struct {
	Kind   FacetKind `json:"type"`
	Values []string  `json:"values,omitempty"`
	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
	Unit   string    `json:"unit,omitempty"`
}

func (d *FacetDescriptor) HasValue(value string) bool {
	return slices.Contains(d.Values, value)
}

type FacetResponse struct {
	CategoryId CategoryId                 `json:"category_id,omitempty"`
	Filters    map[string]FacetDescriptor `json:"filters"`
}

type RangeBound struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func (r RangeBound) IsEmpty() bool {
	return r.Min == nil && r.Max == nil
}

func (r RangeBound) clone() RangeBound {
	ret := RangeBound{}
	if r.Min != nil {
		v := *r.Min
		ret.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		ret.Max = &v
	}
	return ret
}

func Bound(min, max *float64) RangeBound {
	return RangeBound{Min: min, Max: max}.clone()
}

func Float(v float64) *float64 {
	return &v
}

type FacetValue struct {
	Kind    FacetKind  `json:"kind"`
	Options []string   `json:"options,omitempty"`
	Range   RangeBound `json:"range,omitempty"`
}

func (v FacetValue) IsEmpty() bool {
	if v.Kind == FacetRange {
		return v.Range.IsEmpty()
	}
	return len(v.Options) == 0
}

func (v FacetValue) Clone() FacetValue {
	return FacetValue{
		Kind:    v.Kind,
		Options: slices.Clone(v.Options),
		Range:   v.Range.clone(),
	}
}

// FacetSelection maps facet names to chosen values. A missing or empty entry
// means no filter on that facet.
type FacetSelection map[string]FacetValue

func (s FacetSelection) Clone() FacetSelection {
	if s == nil {
		return nil
	}
	ret := make(FacetSelection, len(s))
	for name, v := range s {
		ret[name] = v.Clone()
	}
	return ret
}

// Names returns the facet names with a non-empty value in sorted order.
func (s FacetSelection) Names() []string {
	names := make([]string, 0, len(s))
	for _, name := range slices.Sorted(maps.Keys(s)) {
		if !s[name].IsEmpty() {
			names = append(names, name)
		}
	}
	return names
}

func (s FacetSelection) IsEmpty() bool {
	return len(s.Names()) == 0
}
