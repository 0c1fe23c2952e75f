package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matst80/slask-browse/pkg/category"
	"github.com/matst80/slask-browse/pkg/pager"
	"github.com/matst80/slask-browse/pkg/tracking"
	"github.com/matst80/slask-browse/pkg/types"
	"go.uber.org/zap"
)

type ChipKind int

const (
	CategoryChip ChipKind = iota
	OptionChip
	RangeChip
)

// Chip is one removable entry in the active filter bar.
type Chip struct {
	Kind  ChipKind
	Facet string
	Value string
	Label string
}

// Chips lists the applied filters, the category first and then the facets in
// name order.
func (s *Session) Chips() []Chip {
	state := s.Store.Snapshot()
	chips := []Chip{}
	if state.CategoryId != nil {
		chips = append(chips, Chip{Kind: CategoryChip, Label: "Category: " + s.categoryLabel(*state.CategoryId)})
	}
	for _, name := range state.Facets.Names() {
		v := state.Facets[name]
		switch v.Kind {
		case types.FacetOptions:
			for _, option := range v.Options {
				chips = append(chips, Chip{Kind: OptionChip, Facet: name, Value: option, Label: fmt.Sprintf("%s: %s", name, option)})
			}
		case types.FacetRange:
			chips = append(chips, Chip{Kind: RangeChip, Facet: name, Label: fmt.Sprintf("%s: %s", name, rangeLabel(v.Range))})
		}
	}
	return chips
}

// categoryLabel names the applied category, which may differ from what is
// currently selected in the navigator.
func (s *Session) categoryLabel(id types.CategoryId) string {
	if path, ok := s.Navigator.PathTo(id); ok {
		return category.Label(path)
	}
	return strconv.FormatInt(int64(id), 10)
}

func rangeLabel(r types.RangeBound) string {
	parts := make([]string, 0, 2)
	if r.Min != nil {
		parts = append(parts, "from "+strconv.FormatFloat(*r.Min, 'f', -1, 64))
	}
	if r.Max != nil {
		parts = append(parts, "to "+strconv.FormatFloat(*r.Max, 'f', -1, 64))
	}
	return strings.Join(parts, " ")
}

// RemoveChip drops one applied filter and reloads. Removing the category
// clears everything, facets are bound to it.
func (s *Session) RemoveChip(ctx context.Context, chip Chip) (pager.Result, error) {
	if chip.Kind == CategoryChip {
		return s.ResetFilters(ctx)
	}
	state := s.Store.Snapshot()
	facets := state.Facets
	v, ok := facets[chip.Facet]
	if !ok {
		return pager.Result{Outcome: pager.Skipped}, nil
	}
	switch chip.Kind {
	case OptionChip:
		options := make([]string, 0, len(v.Options))
		for _, option := range v.Options {
			if option != chip.Value {
				options = append(options, option)
			}
		}
		v.Options = options
		facets[chip.Facet] = v
		if d, staged := s.stagedFor(state, chip.Facet); staged && d.Kind == types.FacetOptions {
			if err := s.Panel.RemoveOption(chip.Facet, chip.Value); err != nil {
				s.logger.Warn("could not unstage removed option", zap.String("facet", chip.Facet), zap.Error(err))
			}
		}
	case RangeChip:
		delete(facets, chip.Facet)
		if _, staged := s.stagedFor(state, chip.Facet); staged {
			if err := s.Panel.ClearFacet(chip.Facet); err != nil {
				s.logger.Warn("could not unstage removed range", zap.String("facet", chip.Facet), zap.Error(err))
			}
		}
	}
	s.Store.SetFacets(facets)
	s.emit(FacetsChanged, nil)
	return s.refresh(ctx, tracking.EventApplyFilters)
}

// stagedFor returns the panel descriptor of name only while the panel still
// belongs to the applied category. After the user moved to another leaf a
// facet with the same name is a different filter.
func (s *Session) stagedFor(state types.QueryState, name string) (types.FacetDescriptor, bool) {
	leaf, ok := s.Navigator.CurrentLeafId()
	if !ok || state.CategoryId == nil || leaf != *state.CategoryId {
		return types.FacetDescriptor{}, false
	}
	return s.Panel.Descriptor(name)
}
