package facet

import (
	"maps"
	"slices"

	"github.com/matst80/slask-browse/pkg/types"
	"go.uber.org/zap"
)

// ReservedNames are query keys owned by the query store. A facet with one of
// these names could not be told apart from the base parameters.
var ReservedNames = []string{"offset", "limit", "query", "category_id"}

// Panel stages a facet selection against the descriptors of the current leaf
// category. Nothing here touches the active query until the selection is
// materialized and applied.
type Panel struct {
	Strict      bool
	logger      *zap.Logger
	descriptors map[string]types.FacetDescriptor
	options     map[string]map[string]struct{}
	ranges      map[string]types.RangeBound
}

func NewPanel(logger *zap.Logger) *Panel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Panel{
		logger:      logger,
		descriptors: map[string]types.FacetDescriptor{},
		options:     map[string]map[string]struct{}{},
		ranges:      map[string]types.RangeBound{},
	}
}

// SetDescriptors replaces the valid facets. Staged selections are always
// cleared first, a selection never carries over to another category.
func (p *Panel) SetDescriptors(descriptors map[string]types.FacetDescriptor) {
	p.ClearAll()
	p.descriptors = make(map[string]types.FacetDescriptor, len(descriptors))
	for name, d := range descriptors {
		if slices.Contains(ReservedNames, name) {
			p.logger.Warn("facet name collides with query parameter", zap.String("facet", name))
			continue
		}
		if d.Kind != types.FacetOptions && d.Kind != types.FacetRange {
			p.logger.Warn("unknown facet kind", zap.String("facet", name), zap.String("kind", string(d.Kind)))
			continue
		}
		d.Values = slices.Clone(d.Values)
		p.descriptors[name] = d
	}
}

func (p *Panel) Descriptors() map[string]types.FacetDescriptor {
	return maps.Clone(p.descriptors)
}

func (p *Panel) Descriptor(name string) (types.FacetDescriptor, bool) {
	d, ok := p.descriptors[name]
	return d, ok
}

// Names returns the facet names in render order.
func (p *Panel) Names() []string {
	return slices.Sorted(maps.Keys(p.descriptors))
}

func (p *Panel) fail(err error) error {
	if p.Strict {
		panic(err)
	}
	p.logger.Warn("facet operation ignored", zap.Error(err))
	return err
}

func (p *Panel) expect(name string, kind types.FacetKind) error {
	d, ok := p.descriptors[name]
	if !ok {
		return p.fail(types.InvalidOperation("unknown facet %q", name))
	}
	if d.Kind != kind {
		return p.fail(types.InvalidOperation("facet %q is %s, not %s", name, d.Kind, kind))
	}
	return nil
}

// ToggleOption adds or removes value from the staged set of an options facet.
func (p *Panel) ToggleOption(name, value string) error {
	if err := p.expect(name, types.FacetOptions); err != nil {
		return err
	}
	d := p.descriptors[name]
	if !d.HasValue(value) {
		return p.fail(types.InvalidOperation("value %q not offered by facet %q", value, name))
	}
	set, ok := p.options[name]
	if !ok {
		set = map[string]struct{}{}
		p.options[name] = set
	}
	if _, selected := set[value]; selected {
		delete(set, value)
	} else {
		set[value] = struct{}{}
	}
	if len(set) == 0 {
		delete(p.options, name)
	}
	return nil
}

// RemoveOption deselects a single value, a no-op if it was not selected.
func (p *Panel) RemoveOption(name, value string) error {
	if err := p.expect(name, types.FacetOptions); err != nil {
		return err
	}
	if set, ok := p.options[name]; ok {
		delete(set, value)
		if len(set) == 0 {
			delete(p.options, name)
		}
	}
	return nil
}

func (p *Panel) IsSelected(name, value string) bool {
	_, ok := p.options[name][value]
	return ok
}

// SetRange stages a numeric bound. Either side may be missing, an empty bound
// clears the facet.
func (p *Panel) SetRange(name string, bound types.RangeBound) error {
	if err := p.expect(name, types.FacetRange); err != nil {
		return err
	}
	if bound.IsEmpty() {
		delete(p.ranges, name)
		return nil
	}
	p.ranges[name] = types.Bound(bound.Min, bound.Max)
	return nil
}

func (p *Panel) Range(name string) (types.RangeBound, bool) {
	r, ok := p.ranges[name]
	return r, ok
}

func (p *Panel) ClearFacet(name string) error {
	if _, ok := p.descriptors[name]; !ok {
		return p.fail(types.InvalidOperation("unknown facet %q", name))
	}
	delete(p.options, name)
	delete(p.ranges, name)
	return nil
}

func (p *Panel) ClearAll() {
	clear(p.options)
	clear(p.ranges)
}

// Stage fills the panel from an applied selection, keeping only the values
// that are valid for the current descriptors.
func (p *Panel) Stage(selection types.FacetSelection) {
	p.ClearAll()
	for name, v := range selection {
		d, ok := p.descriptors[name]
		if !ok || d.Kind != v.Kind {
			continue
		}
		switch v.Kind {
		case types.FacetOptions:
			for _, value := range v.Options {
				if d.HasValue(value) {
					if p.options[name] == nil {
						p.options[name] = map[string]struct{}{}
					}
					p.options[name][value] = struct{}{}
				}
			}
		case types.FacetRange:
			if !v.Range.IsEmpty() {
				p.ranges[name] = types.Bound(v.Range.Min, v.Range.Max)
			}
		}
	}
}

// Materialize returns a copy of the staged selection without empty facets.
func (p *Panel) Materialize() types.FacetSelection {
	ret := types.FacetSelection{}
	for name, set := range p.options {
		if len(set) == 0 {
			continue
		}
		ret[name] = types.FacetValue{
			Kind:    types.FacetOptions,
			Options: slices.Sorted(maps.Keys(set)),
		}
	}
	for name, bound := range p.ranges {
		if bound.IsEmpty() {
			continue
		}
		ret[name] = types.FacetValue{
			Kind:  types.FacetRange,
			Range: types.Bound(bound.Min, bound.Max),
		}
	}
	return ret
}
