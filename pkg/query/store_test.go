package query

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matst80/slask-browse/pkg/types"
)

func carFacets() types.FacetSelection {
	return types.FacetSelection{
		"price":  {Kind: types.FacetRange, Range: types.RangeBound{Min: types.Float(10000)}},
		"brands": {Kind: types.FacetOptions, Options: []string{"Toyota", "Honda"}},
	}
}

func TestFacetSerializationIsDeterministic(t *testing.T) {
	expected := `brands=Honda&brands=Toyota&price={"min":10000}`
	for i := 0; i < 10; i++ {
		got := FacetParams(carFacets()).String()
		if got != expected {
			t.Fatalf("Expected %s, got %s", expected, got)
		}
	}
}

func TestSerializeOrder(t *testing.T) {
	s := NewStore(Config{Limit: 6})
	s.SetFreeText("  corolla ")
	s.SetCategory(types.CategoryIdPtr(4))
	s.SetFacets(carFacets())

	expected := `offset=0&limit=6&query=corolla&category_id=4&brands=Honda&brands=Toyota&price={"min":10000}`
	if got := s.Serialize().String(); got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}

	other := NewStore(Config{Limit: 6})
	other.SetFacets(carFacets())
	other.SetCategory(types.CategoryIdPtr(4))
	other.SetFreeText("corolla")
	if s.Key() != other.Key() {
		t.Errorf("Expected identical keys, got %s and %s", s.Key(), other.Key())
	}
}

func TestSerializeOmitsEmpty(t *testing.T) {
	s := NewStore(Config{})
	s.SetFacets(types.FacetSelection{
		"brands": {Kind: types.FacetOptions},
		"price":  {Kind: types.FacetRange},
	})
	if got := s.Serialize().String(); got != "offset=0&limit=12" {
		t.Errorf("Expected only paging params, got %s", got)
	}
}

func TestOffsetStaysMultipleOfLimit(t *testing.T) {
	s := NewStore(Config{Limit: 5})
	for n := 1; n <= 4; n++ {
		s.AdvancePage()
		if got := s.Snapshot().Offset; got != n*5 {
			t.Errorf("After %d pages expected offset %d, got %d", n, n*5, got)
		}
	}

	mutations := []func(){
		func() { s.SetFreeText("x") },
		func() { s.SetCategory(types.CategoryIdPtr(2)) },
		func() { s.SetCategory(nil) },
		func() { s.SetFacets(carFacets()) },
	}
	for i, mutate := range mutations {
		s.AdvancePage()
		s.AdvancePage()
		mutate()
		if got := s.Snapshot().Offset; got != 0 {
			t.Errorf("mutation %d: expected offset 0, got %d", i, got)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(Config{})
	input := carFacets()
	s.SetFacets(input)
	input["brands"].Options[0] = "Saab"

	snap := s.Snapshot()
	snap.Facets["brands"].Options[0] = "Volvo"
	*snap.Facets["price"].Range.Min = 1

	if got := FacetParams(s.Snapshot().Facets).String(); got != `brands=Honda&brands=Toyota&price={"min":10000}` {
		t.Errorf("Store state leaked through a copy: %s", got)
	}
}

func TestRestore(t *testing.T) {
	s := NewStore(Config{Limit: 12})
	values, err := url.ParseQuery(`offset=30&limit=99&query=brake&category_id=7&brands=Toyota&brands=Honda&brands=Toyota&price=%7B%22min%22%3A5%2C%22max%22%3A9%7D`)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Restore(values); err != nil {
		t.Fatal(err)
	}
	state := s.Snapshot()
	if state.Offset != 24 {
		t.Errorf("Expected offset rounded to 24, got %d", state.Offset)
	}
	if state.Limit != 12 {
		t.Errorf("Expected configured limit, got %d", state.Limit)
	}
	if state.Query != "brake" || state.CategoryId == nil || *state.CategoryId != 7 {
		t.Errorf("Unexpected base state %+v", state)
	}
	expected := types.FacetSelection{
		"brands": {Kind: types.FacetOptions, Options: []string{"Honda", "Toyota"}},
		"price":  {Kind: types.FacetRange, Range: types.RangeBound{Min: types.Float(5), Max: types.Float(9)}},
	}
	if diff := cmp.Diff(expected, state.Facets); diff != "" {
		t.Errorf("facets mismatch (-want +got):\n%s", diff)
	}
}

func TestRestoreRejectsBrokenRange(t *testing.T) {
	s := NewStore(Config{})
	if err := s.Restore(url.Values{"price": {"{min"}}); err == nil {
		t.Error("Expected error for broken range json")
	}
	if err := s.Restore(url.Values{"offset": {"many"}}); err == nil {
		t.Error("Expected error for broken offset")
	}
}
