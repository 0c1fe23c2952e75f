package session

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matst80/slask-browse/pkg/pager"
	"github.com/matst80/slask-browse/pkg/tracking"
	"github.com/matst80/slask-browse/pkg/types"
)

type fakeApi struct {
	tree     []types.CategoryNode
	treeErr  error
	facets   map[types.CategoryId]map[string]types.FacetDescriptor
	facetErr error
	total    int
	pageErr  error
	requests []types.Params
}

func (f *fakeApi) FetchCategories(ctx context.Context) ([]types.CategoryNode, error) {
	return f.tree, f.treeErr
}

func (f *fakeApi) FetchFacets(ctx context.Context, id types.CategoryId) (map[string]types.FacetDescriptor, error) {
	if f.facetErr != nil {
		return nil, f.facetErr
	}
	return f.facets[id], nil
}

func (f *fakeApi) FetchPage(ctx context.Context, params types.Params) (*types.Page, error) {
	f.requests = append(f.requests, params)
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	values := params.Values()
	offset, _ := strconv.Atoi(values.Get("offset"))
	limit, _ := strconv.Atoi(values.Get("limit"))
	page := &types.Page{HasMore: offset+limit < f.total}
	for i := offset; i < offset+limit && i < f.total; i++ {
		page.Items = append(page.Items, types.Item{"id": float64(i)})
	}
	return page, nil
}

func (f *fakeApi) last() string {
	return f.requests[len(f.requests)-1].String()
}

type recordingTracker struct {
	events  []tracking.EventKind
	queries []*tracking.QueryEvent
}

func (r *recordingTracker) TrackQuery(event *tracking.QueryEvent) {
	r.events = append(r.events, event.Event)
	r.queries = append(r.queries, event)
}

func (r *recordingTracker) Close() error {
	return nil
}

func newFakeApi() *fakeApi {
	return &fakeApi{
		tree: []types.CategoryNode{
			{Id: 2, Name: "Sedan", IsLeaf: true},
			{Id: 3, Name: "SUV", Children: []types.CategoryNode{
				{Id: 4, Name: "Compact", IsLeaf: true},
			}},
		},
		facets: map[types.CategoryId]map[string]types.FacetDescriptor{
			2: {
				"brands": {Kind: types.FacetOptions, Values: []string{"Honda", "Toyota"}},
			},
			4: {
				"brands": {Kind: types.FacetOptions, Values: []string{"Kia", "Toyota"}},
				"price":  {Kind: types.FacetRange, Min: 5000, Max: 60000},
			},
		},
		total: 20,
	}
}

func TestCategorySwitchClearsStagedFacets(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	if err := s.LoadCategories(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.SelectCategory(ctx, 0, 3); err != nil {
		t.Fatal(err)
	}
	if len(s.Panel.Names()) != 0 {
		t.Errorf("Expected no facets for a non-leaf, got %v", s.Panel.Names())
	}
	if err := s.SelectCategory(ctx, 1, 4); err != nil {
		t.Fatal(err)
	}
	if leaf, ok := s.Navigator.CurrentLeafId(); !ok || leaf != 4 {
		t.Fatalf("Expected leaf 4, got %d", leaf)
	}
	s.Panel.ToggleOption("brands", "Toyota")
	s.Panel.SetRange("price", types.RangeBound{Min: types.Float(10000)})

	if err := s.SelectCategory(ctx, 0, 2); err != nil {
		t.Fatal(err)
	}
	if leaf, ok := s.Navigator.CurrentLeafId(); !ok || leaf != 2 {
		t.Fatalf("Expected leaf 2, got %d", leaf)
	}
	if sel := s.Panel.Materialize(); len(sel) != 0 {
		t.Errorf("Expected staged facets from Compact to be gone, got %v", sel)
	}
	if diff := cmp.Diff([]string{"brands"}, s.Panel.Names()); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFlushesState(t *testing.T) {
	api := newFakeApi()
	tracker := &recordingTracker{}
	s := New(api, Config{Limit: 5}, WithTracker(tracker))
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 3)
	s.SelectCategory(ctx, 1, 4)
	s.Panel.ToggleOption("brands", "Toyota")
	s.Panel.ToggleOption("brands", "Kia")
	s.Panel.SetRange("price", types.RangeBound{Min: types.Float(10000)})

	if len(api.requests) != 0 {
		t.Fatalf("Staging must not fetch, got %d requests", len(api.requests))
	}
	r, err := s.Apply(ctx)
	if err != nil || r.Outcome != pager.Fetched {
		t.Fatalf("Expected first page, got %v %v", r.Outcome, err)
	}
	expected := `offset=0&limit=5&category_id=4&brands=Kia&brands=Toyota&price={"min":10000}`
	if api.last() != expected {
		t.Errorf("Expected %s, got %s", expected, api.last())
	}

	s.LoadMore(ctx)
	if got := api.last(); got != `offset=5&limit=5&category_id=4&brands=Kia&brands=Toyota&price={"min":10000}` {
		t.Errorf("Unexpected second page request %s", got)
	}
	if len(s.Items()) != 10 {
		t.Errorf("Expected 10 items, got %d", len(s.Items()))
	}

	s.Search(ctx, "hybrid")
	if got := api.last(); got != `offset=0&limit=5&query=hybrid&category_id=4&brands=Kia&brands=Toyota&price={"min":10000}` {
		t.Errorf("Unexpected search request %s", got)
	}
	if len(s.Items()) != 5 {
		t.Errorf("Expected results replaced, got %d", len(s.Items()))
	}
	expectedEvents := []tracking.EventKind{
		tracking.EventSelectCategory,
		tracking.EventSelectCategory,
		tracking.EventApplyFilters,
		tracking.EventLoadMore,
		tracking.EventSearch,
	}
	if diff := cmp.Diff(expectedEvents, tracker.events); diff != "" {
		t.Errorf("tracking mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyWithoutLeafDropsFacets(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 3)
	s.Apply(ctx)
	if got := api.last(); got != "offset=0&limit=5&category_id=3" {
		t.Errorf("Unexpected request %s", got)
	}
}

func TestChipsAndRemoval(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 3)
	s.SelectCategory(ctx, 1, 4)
	s.Panel.ToggleOption("brands", "Toyota")
	s.Panel.ToggleOption("brands", "Kia")
	s.Panel.SetRange("price", types.RangeBound{Min: types.Float(10000), Max: types.Float(20000)})
	s.Apply(ctx)

	labels := []string{}
	for _, c := range s.Chips() {
		labels = append(labels, c.Label)
	}
	expected := []string{"Category: SUV / Compact", "brands: Kia", "brands: Toyota", "price: from 10000 to 20000"}
	if diff := cmp.Diff(expected, labels); diff != "" {
		t.Errorf("chips mismatch (-want +got):\n%s", diff)
	}

	s.RemoveChip(ctx, s.Chips()[1])
	if got := api.last(); got != `offset=0&limit=5&category_id=4&brands=Toyota&price={"max":20000,"min":10000}` &&
		got != `offset=0&limit=5&category_id=4&brands=Toyota&price={"min":10000,"max":20000}` {
		t.Errorf("Unexpected request after option removal %s", got)
	}
	if s.Panel.IsSelected("brands", "Kia") {
		t.Error("Expected removed chip to be unstaged too")
	}

	chips := s.Chips()
	s.RemoveChip(ctx, chips[len(chips)-1])
	if got := api.last(); got != "offset=0&limit=5&category_id=4&brands=Toyota" {
		t.Errorf("Unexpected request after range removal %s", got)
	}

	s.RemoveChip(ctx, s.Chips()[0])
	if got := api.last(); got != "offset=0&limit=5" {
		t.Errorf("Unexpected request after category removal %s", got)
	}
	if len(s.Chips()) != 0 || len(s.Navigator.Path()) != 0 {
		t.Error("Expected all filters gone")
	}
}

func TestOpenFiltersStagesAppliedFacets(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 2)
	s.Panel.ToggleOption("brands", "Honda")
	s.Apply(ctx)

	s.Panel.ClearAll()
	s.OpenFilters()
	if !s.Panel.IsSelected("brands", "Honda") {
		t.Error("Expected applied selection to be staged again")
	}
}

func TestDegradedMetadata(t *testing.T) {
	api := newFakeApi()
	api.treeErr = &types.NetworkError{Op: "GET", Url: "/api/parts/categories", Status: 500}
	s := New(api, Config{})
	ctx := context.Background()

	if err := s.LoadCategories(ctx); err == nil {
		t.Error("Expected the error to be reported")
	}
	if len(s.Navigator.Roots()) != 0 {
		t.Error("Expected empty tree")
	}

	api.treeErr = nil
	api.facetErr = errors.New("boom")
	s.LoadCategories(ctx)
	if err := s.SelectCategory(ctx, 0, 2); err == nil {
		t.Error("Expected facet error to be reported")
	}
	if len(s.Panel.Names()) != 0 {
		t.Error("Expected empty facet panel")
	}
	r, err := s.Apply(ctx)
	if err != nil || r.Outcome != pager.Fetched {
		t.Errorf("Expected listing to keep working, got %v %v", r.Outcome, err)
	}
}

func TestListingErrorAndRetry(t *testing.T) {
	api := newFakeApi()
	api.pageErr = &types.NetworkError{Op: "GET", Url: "/api/parts/", Status: 503}
	s := New(api, Config{Limit: 5})
	ctx := context.Background()

	var lastErr error
	s.OnChange("grid", func(e Event) {
		if e.Kind == ResultsChanged {
			lastErr = e.Err
		}
	})
	_, err := s.Search(ctx, "bolt")
	if !IsRetryable(err) || !s.Failed() {
		t.Fatalf("Expected retryable failure, got %v", err)
	}
	if lastErr == nil {
		t.Error("Expected render handler to see the error")
	}

	r, err := s.LoadMore(ctx)
	if err != nil || r.Outcome != pager.Skipped {
		t.Errorf("Expected scrolling not to retry, got %v %v", r.Outcome, err)
	}

	api.pageErr = nil
	r, err = s.Retry(ctx)
	if err != nil || r.Outcome != pager.Fetched {
		t.Errorf("Expected retry to fetch, got %v %v", r.Outcome, err)
	}
	if lastErr != nil || s.Failed() {
		t.Error("Expected error state cleared")
	}
}

func TestHandlersRegisterOnce(t *testing.T) {
	s := New(newFakeApi(), Config{})
	counts := map[string]int{}
	for i := 0; i < 3; i++ {
		s.OnChange("chips", func(e Event) { counts["chips"]++ })
	}
	s.OnChange("grid", func(e Event) { counts["grid"]++ })
	s.emit(ResultsChanged, nil)
	if counts["chips"] != 1 || counts["grid"] != 1 {
		t.Errorf("Expected each handler once, got %v", counts)
	}
	s.Off("chips")
	s.emit(ResultsChanged, nil)
	if counts["chips"] != 1 || counts["grid"] != 2 {
		t.Errorf("Expected chips handler removed, got %v", counts)
	}
}

func TestStartRestoresQuery(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	r, err := s.Start(context.Background(), "query=wheel&offset=10&brands=Kia")
	if err != nil || r.Outcome != pager.Fetched {
		t.Fatalf("Expected first page, got %v %v", r.Outcome, err)
	}
	if got := api.last(); got != "offset=0&limit=5&query=wheel&brands=Kia" {
		t.Errorf("Unexpected request %s", got)
	}
}

func TestLocalLeafHasNoFacets(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{})
	ctx := context.Background()
	s.LoadCategories(ctx)
	local, err := s.Navigator.AddLocal(types.CategoryIdPtr(2), "Hatchback")
	if err != nil {
		t.Fatal(err)
	}
	s.SelectCategory(ctx, 0, 2)
	if err := s.SelectCategory(ctx, 1, local.Id); err != nil {
		t.Fatal(err)
	}
	if len(s.Panel.Names()) != 0 {
		t.Error("Expected no facets for an unpersisted category")
	}
}

func TestChipShowsAppliedCategory(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 3)
	s.SelectCategory(ctx, 1, 4)
	s.Apply(ctx)

	s.SelectCategory(ctx, 0, 2)
	chips := s.Chips()
	if len(chips) != 1 || chips[0].Label != "Category: SUV / Compact" {
		t.Errorf("Expected chip for the applied category, got %v", chips)
	}
	if got := api.last(); got != "offset=0&limit=5&category_id=4" {
		t.Errorf("Expected no request for an unapplied selection, got %s", got)
	}

	s.Apply(ctx)
	if chips := s.Chips(); chips[0].Label != "Category: Sedan" {
		t.Errorf("Expected chip to follow apply, got %v", chips)
	}
}

func TestStartSyncsNavigatorAndPanel(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	expected := `offset=0&limit=5&category_id=4&brands=Kia&price={"min":10000}`

	r, err := s.Start(ctx, `category_id=4&brands=Kia&price={"min":10000}`)
	if err != nil || r.Outcome != pager.Fetched {
		t.Fatalf("Expected first page, got %v %v", r.Outcome, err)
	}
	if api.last() != expected {
		t.Errorf("Expected %s, got %s", expected, api.last())
	}
	if leaf, ok := s.Navigator.CurrentLeafId(); !ok || leaf != 4 {
		t.Fatalf("Expected restored leaf 4, got %d", leaf)
	}
	if s.Navigator.PathLabel() != "SUV / Compact" {
		t.Errorf("Unexpected path %s", s.Navigator.PathLabel())
	}

	s.OpenFilters()
	if !s.Panel.IsSelected("brands", "Kia") {
		t.Error("Expected restored option to be staged")
	}
	if bound, ok := s.Panel.Range("price"); !ok || *bound.Min != 10000 {
		t.Errorf("Expected restored range to be staged, got %v", bound)
	}

	s.Apply(ctx)
	if api.last() != expected {
		t.Errorf("Expected apply without changes to keep the filters, got %s", api.last())
	}
}

func TestStartWithUnknownCategory(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	r, err := s.Start(context.Background(), "category_id=99")
	if err != nil || r.Outcome != pager.Fetched {
		t.Fatalf("Expected first page, got %v %v", r.Outcome, err)
	}
	if got := api.last(); got != "offset=0&limit=5&category_id=99" {
		t.Errorf("Unexpected request %s", got)
	}
	if _, ok := s.Navigator.CurrentId(); ok {
		t.Error("Expected no selection for an unknown category")
	}
	if chips := s.Chips(); len(chips) != 1 || chips[0].Label != "Category: 99" {
		t.Errorf("Expected id as chip label, got %v", chips)
	}
}

func TestRemoveChipKeepsOtherLeafStaged(t *testing.T) {
	api := newFakeApi()
	s := New(api, Config{Limit: 5})
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 3)
	s.SelectCategory(ctx, 1, 4)
	s.Panel.ToggleOption("brands", "Toyota")
	s.Apply(ctx)

	s.SelectCategory(ctx, 0, 2)
	s.Panel.ToggleOption("brands", "Toyota")
	s.RemoveChip(ctx, s.Chips()[1])

	if got := api.last(); got != "offset=0&limit=5&category_id=4" {
		t.Errorf("Unexpected request after removal %s", got)
	}
	if !s.Panel.IsSelected("brands", "Toyota") {
		t.Error("Expected the staged selection of the other leaf to stay")
	}
}

func TestTrackingCarriesPageContext(t *testing.T) {
	api := newFakeApi()
	tracker := &recordingTracker{}
	s := New(api, Config{Limit: 5, Context: "cars"}, WithTracker(tracker))
	ctx := context.Background()
	s.LoadCategories(ctx)
	s.SelectCategory(ctx, 0, 3)
	s.Search(ctx, "awd")

	if len(tracker.queries) != 2 {
		t.Fatalf("Expected two events, got %v", tracker.events)
	}
	selected := tracker.queries[0]
	if selected.Event != tracking.EventSelectCategory || selected.CategoryId == nil || *selected.CategoryId != 3 {
		t.Errorf("Unexpected selection event %+v", selected)
	}
	for _, q := range tracker.queries {
		if q.Context != "cars" || q.SessionId != s.Id.String() {
			t.Errorf("Expected session and page context on %+v", q.BaseEvent)
		}
	}
	if tracker.queries[1].NumberOfResults != 5 {
		t.Errorf("Expected result count, got %d", tracker.queries[1].NumberOfResults)
	}
}
