package session

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/matst80/slask-browse/pkg/category"
	"github.com/matst80/slask-browse/pkg/facet"
	"github.com/matst80/slask-browse/pkg/pager"
	"github.com/matst80/slask-browse/pkg/query"
	"github.com/matst80/slask-browse/pkg/tracking"
	"github.com/matst80/slask-browse/pkg/types"
	"go.uber.org/zap"
)

type Api interface {
	FetchCategories(ctx context.Context) ([]types.CategoryNode, error)
	FetchFacets(ctx context.Context, id types.CategoryId) (map[string]types.FacetDescriptor, error)
	pager.Fetcher
}

type Config struct {
	Limit int
	// Context names the catalog page in tracking events.
	Context string
	// Strict turns invalid navigator and panel calls into panics.
	Strict bool
}

type Option func(*Session)

func WithTracker(tracker tracking.Tracker) Option {
	return func(s *Session) {
		s.tracker = tracker
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is the state of one catalog page view. It owns the category
// navigator, the staged facet panel, the query store and the pager, and is
// discarded when the user leaves the page. Apart from LoadMore and Retry,
// which go through the pager, it is meant to be driven from one goroutine.
type Session struct {
	Id        uuid.UUID
	Navigator *category.Navigator
	Panel     *facet.Panel
	Store     *query.Store
	Pager     *pager.Pager

	cfg     Config
	api     Api
	tracker tracking.Tracker
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	order    []string
}

func New(api Api, cfg Config, opts ...Option) *Session {
	s := &Session{
		Id:       uuid.New(),
		cfg:      cfg,
		api:      api,
		tracker:  tracking.NoopTracking{},
		logger:   zap.NewNop(),
		handlers: map[string]Handler{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.Id.String()))
	s.Navigator = category.NewNavigator(s.logger)
	s.Navigator.Strict = cfg.Strict
	s.Panel = facet.NewPanel(s.logger)
	s.Panel.Strict = cfg.Strict
	s.Store = query.NewStore(query.Config{Limit: cfg.Limit})
	s.Pager = pager.New(s.Store, api, s.logger)
	return s
}

// Start restores the query from the page url and loads the first page. The
// restored category is selected in the navigator and the restored facets are
// staged, so applying again without changes keeps the same filters.
func (s *Session) Start(ctx context.Context, rawQuery string) (pager.Result, error) {
	values, err := url.ParseQuery(rawQuery)
	if err == nil {
		err = s.Store.Restore(values)
	}
	if err != nil {
		s.logger.Info("ignoring page query", zap.String("query", rawQuery), zap.Error(err))
	}
	s.restoreSelection(ctx)
	return s.refresh(ctx, tracking.EventSearch)
}

func (s *Session) restoreSelection(ctx context.Context) {
	state := s.Store.Snapshot()
	if state.CategoryId == nil {
		return
	}
	if s.Navigator.Len() == 0 {
		s.LoadCategories(ctx)
	}
	path, ok := s.Navigator.PathTo(*state.CategoryId)
	if !ok {
		s.logger.Warn("restored category not in tree", zap.Int64("category", int64(*state.CategoryId)))
		return
	}
	for level, c := range path {
		if err := s.selectCategory(ctx, level, c.Id); err != nil {
			s.logger.Warn("could not restore category", zap.Int64("category", int64(c.Id)), zap.Error(err))
			return
		}
	}
	s.Panel.Stage(state.Facets)
	s.emit(FacetsChanged, nil)
}

// LoadCategories fetches the tree. On failure the tree is left empty and the
// page keeps working without category filters.
func (s *Session) LoadCategories(ctx context.Context) error {
	nodes, err := s.api.FetchCategories(ctx)
	if err != nil {
		s.logger.Warn("failed to load categories", zap.Error(err))
		nodes = nil
	}
	s.Navigator.Load(nodes)
	s.Panel.SetDescriptors(nil)
	s.emit(CategoriesChanged, err)
	return err
}

// SelectCategory picks a node at level. Staged facets are always dropped, new
// descriptors are loaded when the node is a leaf.
func (s *Session) SelectCategory(ctx context.Context, level int, id types.CategoryId) error {
	err := s.selectCategory(ctx, level, id)
	if current, ok := s.Navigator.CurrentId(); ok && current == id {
		event := s.queryEvent(tracking.EventSelectCategory)
		selected := int64(id)
		event.CategoryId = &selected
		s.tracker.TrackQuery(event)
	}
	return err
}

func (s *Session) selectCategory(ctx context.Context, level int, id types.CategoryId) error {
	if _, err := s.Navigator.SelectAt(level, id); err != nil {
		return err
	}
	s.Panel.SetDescriptors(nil)
	s.emit(CategoriesChanged, nil)

	leaf, ok := s.Navigator.CurrentLeafId()
	if !ok {
		s.emit(FacetsChanged, nil)
		return nil
	}
	if leaf.IsLocal() {
		// nothing is stored for a category the backend does not know yet
		s.emit(FacetsChanged, nil)
		return nil
	}
	descriptors, err := s.api.FetchFacets(ctx, leaf)
	if current, ok := s.Navigator.CurrentLeafId(); !ok || current != leaf {
		// superseded by a later selection
		return nil
	}
	if err != nil {
		s.logger.Warn("failed to load facets", zap.Int64("category", int64(leaf)), zap.Error(err))
		s.emit(FacetsChanged, err)
		return err
	}
	s.Panel.SetDescriptors(descriptors)
	s.emit(FacetsChanged, nil)
	return nil
}

// OpenFilters stages the applied facets in the panel so the filter overlay
// shows what is active.
func (s *Session) OpenFilters() {
	s.Panel.Stage(s.Store.Snapshot().Facets)
}

func (s *Session) Search(ctx context.Context, text string) (pager.Result, error) {
	s.Store.SetFreeText(text)
	return s.refresh(ctx, tracking.EventSearch)
}

// Apply flushes the navigator and panel into the query and loads the first
// page. Facets only apply when a leaf is selected.
func (s *Session) Apply(ctx context.Context) (pager.Result, error) {
	if id, ok := s.Navigator.CurrentId(); ok {
		s.Store.SetCategory(&id)
	} else {
		s.Store.SetCategory(nil)
	}
	if _, ok := s.Navigator.CurrentLeafId(); ok {
		s.Store.SetFacets(s.Panel.Materialize())
	} else {
		s.Store.SetFacets(nil)
	}
	return s.refresh(ctx, tracking.EventApplyFilters)
}

func (s *Session) ResetFilters(ctx context.Context) (pager.Result, error) {
	s.Navigator.Clear()
	s.Panel.SetDescriptors(nil)
	s.Store.SetCategory(nil)
	s.Store.SetFacets(nil)
	s.emit(CategoriesChanged, nil)
	s.emit(FacetsChanged, nil)
	return s.refresh(ctx, tracking.EventResetFilters)
}

func (s *Session) refresh(ctx context.Context, kind tracking.EventKind) (pager.Result, error) {
	s.Pager.Reset()
	s.emit(ResultsChanged, nil)
	return s.fetch(ctx, kind, s.Pager.FetchNext)
}

// LoadMore is what the scroll observer calls near the bottom of the list.
func (s *Session) LoadMore(ctx context.Context) (pager.Result, error) {
	return s.fetch(ctx, tracking.EventLoadMore, s.Pager.FetchNext)
}

// Retry is the explicit retry affordance after a failed page.
func (s *Session) Retry(ctx context.Context) (pager.Result, error) {
	return s.fetch(ctx, tracking.EventLoadMore, s.Pager.Retry)
}

func (s *Session) fetch(ctx context.Context, kind tracking.EventKind, next func(context.Context) (pager.Result, error)) (pager.Result, error) {
	r, err := next(ctx)
	switch {
	case err != nil:
		s.emit(ResultsChanged, err)
	case r.Outcome == pager.Fetched:
		s.tracker.TrackQuery(s.queryEvent(kind))
		s.emit(ResultsChanged, nil)
	case r.Outcome == pager.Discarded:
		s.logger.Debug("response superseded", zap.Error(r.Err()))
	}
	return r, err
}

func (s *Session) queryEvent(kind tracking.EventKind) *tracking.QueryEvent {
	return tracking.NewQueryEvent(s.Id, s.cfg.Context, kind, s.Store.Snapshot(), s.Pager.Len())
}

func (s *Session) Items() []types.Item {
	return s.Pager.Items()
}

// Failed reports whether the listing shows an error with a retry button.
func (s *Session) Failed() bool {
	return s.Pager.State() == pager.Errored
}

func IsRetryable(err error) bool {
	return pager.IsNetworkError(err) && !errors.Is(err, context.Canceled)
}
