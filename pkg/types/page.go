package types

// Item is one listing row. The catalog pages render parts and cars with
// different shapes so rows are kept as decoded JSON objects.
type Item map[string]any

func (i Item) String(key string) string {
	if v, ok := i[key].(string); ok {
		return v
	}
	return ""
}

func (i Item) Number(key string) (float64, bool) {
	switch v := i[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

type Page struct {
	Items   []Item `json:"items"`
	HasMore bool   `json:"has_more"`
}
