package query

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/schema"
	"github.com/matst80/slask-browse/pkg/types"
)

const DefaultLimit = 12

type Config struct {
	// Limit is the page size, it controls the result batch size and how far
	// the offset moves per page.
	Limit int
}

// Store is the single source of truth for the current catalog request.
type Store struct {
	mu    sync.RWMutex
	state types.QueryState
}

// Request is a consistent view of the store taken under one lock.
type Request struct {
	State  types.QueryState
	Params types.Params
	Key    string
}

func NewStore(cfg Config) *Store {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		state: types.QueryState{
			Facets: types.FacetSelection{},
			Limit:  limit,
		},
	}
}

func (s *Store) SetFreeText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Query = strings.TrimSpace(text)
	s.state.Offset = 0
}

func (s *Store) SetCategory(id *types.CategoryId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		s.state.CategoryId = nil
	} else {
		s.state.CategoryId = types.CategoryIdPtr(*id)
	}
	s.state.Offset = 0
}

func (s *Store) SetFacets(selection types.FacetSelection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Facets = types.FacetSelection{}
	for _, name := range selection.Names() {
		s.state.Facets[name] = selection[name].Clone()
	}
	s.state.Offset = 0
}

// AdvancePage moves the window one page forward. Only the pager calls this,
// after a page was fetched and accepted.
func (s *Store) AdvancePage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Offset += s.state.Limit
}

// Rewind moves back to the first page without touching the filters.
func (s *Store) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Offset = 0
}

func (s *Store) Snapshot() types.QueryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Limit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Limit
}

func (s *Store) Serialize() types.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return serialize(&s.state)
}

// Key is the encoded serialization, identical states give identical keys.
func (s *Store) Key() string {
	return s.Serialize().Encode()
}

func (s *Store) Request() Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	params := serialize(&s.state)
	return Request{
		State:  s.state.Clone(),
		Params: params,
		Key:    params.Encode(),
	}
}

// serialize emits offset, limit, query and category_id followed by the facets
// sorted by name. Option values repeat the key in sorted order, a range is one
// JSON object.
func serialize(state *types.QueryState) types.Params {
	params := types.Params{
		{Key: "offset", Value: strconv.Itoa(state.Offset)},
		{Key: "limit", Value: strconv.Itoa(state.Limit)},
	}
	if state.Query != "" {
		params = append(params, types.Param{Key: "query", Value: state.Query})
	}
	if state.CategoryId != nil {
		params = append(params, types.Param{Key: "category_id", Value: strconv.FormatInt(int64(*state.CategoryId), 10)})
	}
	return append(params, FacetParams(state.Facets)...)
}

func FacetParams(facets types.FacetSelection) types.Params {
	params := types.Params{}
	for _, name := range facets.Names() {
		v := facets[name]
		switch v.Kind {
		case types.FacetOptions:
			values := slices.Clone(v.Options)
			slices.Sort(values)
			for _, value := range slices.Compact(values) {
				params = append(params, types.Param{Key: name, Value: value})
			}
		case types.FacetRange:
			data, err := sonic.Marshal(v.Range)
			if err != nil {
				continue
			}
			params = append(params, types.Param{Key: name, Value: string(data)})
		}
	}
	return params
}

type requestParams struct {
	Offset     int    `schema:"offset"`
	Query      string `schema:"query"`
	CategoryId *int64 `schema:"category_id"`
}

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

var reserved = []string{"offset", "limit", "query", "category_id"}

// Restore rebuilds the state from a page url query. The page size stays the
// configured one, the offset is rounded down to a page boundary.
func (s *Store) Restore(values url.Values) error {
	params := requestParams{}
	if err := decoder.Decode(&params, values); err != nil {
		return fmt.Errorf("decode query: %w", err)
	}
	facets, err := decodeFacets(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Query = strings.TrimSpace(params.Query)
	s.state.CategoryId = nil
	if params.CategoryId != nil {
		s.state.CategoryId = types.CategoryIdPtr(types.CategoryId(*params.CategoryId))
	}
	s.state.Facets = facets
	offset := max(params.Offset, 0)
	s.state.Offset = offset - offset%s.state.Limit
	return nil
}

func decodeFacets(values url.Values) (types.FacetSelection, error) {
	ret := types.FacetSelection{}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if slices.Contains(reserved, name) {
			continue
		}
		items := values[name]
		if len(items) == 0 {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(items[0]), "{") {
			bound := types.RangeBound{}
			if err := sonic.UnmarshalString(items[0], &bound); err != nil {
				return nil, fmt.Errorf("range facet %q: %w", name, err)
			}
			if !bound.IsEmpty() {
				ret[name] = types.FacetValue{Kind: types.FacetRange, Range: bound}
			}
			continue
		}
		options := make([]string, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				options = append(options, item)
			}
		}
		slices.Sort(options)
		options = slices.Compact(options)
		if len(options) > 0 {
			ret[name] = types.FacetValue{Kind: types.FacetOptions, Options: options}
		}
	}
	return ret, nil
}
