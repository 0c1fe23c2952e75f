package types

import (
	"net/url"
	"strings"
)

type QueryState struct {
	Query      string         `json:"query"`
	CategoryId *CategoryId    `json:"category_id,omitempty"`
	Facets     FacetSelection `json:"facets,omitempty"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

func (q QueryState) Clone() QueryState {
	ret := q
	if q.CategoryId != nil {
		ret.CategoryId = CategoryIdPtr(*q.CategoryId)
	}
	ret.Facets = q.Facets.Clone()
	return ret
}

type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query-string pairs. Unlike url.Values the order
// of keys is kept as built.
type Params []Param

func (p Params) Encode() string {
	var buf strings.Builder
	for i, param := range p {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(param.Key))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(param.Value))
	}
	return buf.String()
}

// String renders the pairs without escaping, for logs and chips.
func (p Params) String() string {
	var buf strings.Builder
	for i, param := range p {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(param.Key)
		buf.WriteByte('=')
		buf.WriteString(param.Value)
	}
	return buf.String()
}

func (p Params) Values() url.Values {
	ret := url.Values{}
	for _, param := range p {
		ret.Add(param.Key, param.Value)
	}
	return ret
}

func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}
