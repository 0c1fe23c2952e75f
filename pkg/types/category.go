package types

type CategoryId int64

// IsLocal reports whether the id is a placeholder for a category that has not
// been persisted by the backend yet.
func (id CategoryId) IsLocal() bool {
	return id < 0
}

type Category struct {
	Id       CategoryId   `json:"category_id"`
	Name     string       `json:"category_name"`
	ParentId *CategoryId  `json:"parent_id,omitempty"`
	Children []CategoryId `json:"children,omitempty"`
}

func (c *Category) IsLeaf() bool {
	return len(c.Children) == 0
}

func (c *Category) IsRoot() bool {
	return c.ParentId == nil
}

// CategoryNode is the nested form the categories endpoint returns.
type CategoryNode struct {
	Id       CategoryId     `json:"category_id"`
	Name     string         `json:"category_name"`
	ParentId *CategoryId    `json:"parent_id"`
	IsLeaf   bool           `json:"is_leaf,omitempty"`
	Children []CategoryNode `json:"children"`
}

type CategoryResponse struct {
	Categories []CategoryNode `json:"categories"`
}

func CategoryIdPtr(id CategoryId) *CategoryId {
	return &id
}
