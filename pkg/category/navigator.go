package category

import (
	"fmt"
	"slices"
	"strings"

	"github.com/matst80/slask-browse/pkg/types"
	"go.uber.org/zap"
)

// Navigator keeps the category tree as a flat table keyed by id and the
// selection path from a root to the selected node.
type Navigator struct {
	// Strict makes precondition violations panic instead of being ignored.
	Strict    bool
	logger    *zap.Logger
	nodes     map[types.CategoryId]*types.Category
	roots     []types.CategoryId
	path      []types.CategoryId
	locals    []types.Category
	nextLocal types.CategoryId
}

func NewNavigator(logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		logger:    logger,
		nodes:     map[types.CategoryId]*types.Category{},
		nextLocal: -1,
	}
}

// Load replaces the tree. Duplicate ids, orphans and cycles are dropped. The
// selection path is cleared, locally created categories are merged back in
// when their parent still exists.
func (n *Navigator) Load(tree []types.CategoryNode) {
	n.nodes = make(map[types.CategoryId]*types.Category, len(tree))
	n.roots = n.roots[:0]
	n.path = nil

	order := make([]types.CategoryId, 0, len(tree))
	var walk func(nodes []types.CategoryNode, parent *types.CategoryId)
	walk = func(nodes []types.CategoryNode, parent *types.CategoryId) {
		for _, node := range nodes {
			if _, found := n.nodes[node.Id]; found {
				n.logger.Warn("duplicate category id dropped", zap.Int64("id", int64(node.Id)), zap.String("name", node.Name))
				continue
			}
			parentId := parent
			if parentId == nil && node.ParentId != nil {
				parentId = types.CategoryIdPtr(*node.ParentId)
			}
			n.nodes[node.Id] = &types.Category{
				Id:       node.Id,
				Name:     node.Name,
				ParentId: parentId,
			}
			order = append(order, node.Id)
			walk(node.Children, types.CategoryIdPtr(node.Id))
		}
	}
	walk(tree, nil)

	for _, id := range order {
		c := n.nodes[id]
		if c.ParentId == nil {
			n.roots = append(n.roots, id)
			continue
		}
		if parent, ok := n.nodes[*c.ParentId]; ok {
			parent.Children = append(parent.Children, id)
		}
	}
	n.dropUnreachable()

	locals := n.locals
	n.locals = nil
	for _, local := range locals {
		if _, err := n.insert(local.Id, local.ParentId, local.Name); err != nil {
			n.logger.Info("local category not merged", zap.String("name", local.Name), zap.Error(err))
		}
	}
	n.logger.Debug("category tree loaded", zap.Int("nodes", len(n.nodes)), zap.Int("roots", len(n.roots)))
}

func (n *Navigator) dropUnreachable() {
	reachable := make(map[types.CategoryId]struct{}, len(n.nodes))
	stack := slices.Clone(n.roots)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := reachable[id]; seen {
			continue
		}
		reachable[id] = struct{}{}
		stack = append(stack, n.nodes[id].Children...)
	}
	for id, c := range n.nodes {
		if _, ok := reachable[id]; !ok {
			n.logger.Warn("unreachable category dropped", zap.Int64("id", int64(id)), zap.String("name", c.Name))
			delete(n.nodes, id)
		}
	}
}

func (n *Navigator) fail(err error) error {
	if n.Strict {
		panic(err)
	}
	n.logger.Warn("navigator operation ignored", zap.Error(err))
	return err
}

// SelectAt truncates the path to level entries and appends the node. The node
// has to be a root for level 0, otherwise a child of the node at level-1.
func (n *Navigator) SelectAt(level int, id types.CategoryId) ([]types.Category, error) {
	if level < 0 || level > len(n.path) {
		return n.Path(), n.fail(types.InvalidOperation("level %d outside path of length %d", level, len(n.path)))
	}
	node, ok := n.nodes[id]
	if !ok {
		return n.Path(), n.fail(fmt.Errorf("%w %d: %w", types.ErrUnknownCategory, id, types.ErrInvalidOperation))
	}
	if level == 0 {
		if !node.IsRoot() {
			return n.Path(), n.fail(types.InvalidOperation("category %d is not a root", id))
		}
	} else if node.ParentId == nil || *node.ParentId != n.path[level-1] {
		return n.Path(), n.fail(types.InvalidOperation("category %d is not a child of %d", id, n.path[level-1]))
	}
	n.path = append(n.path[:level:level], id)
	return n.Path(), nil
}

// CurrentLeafId returns the selected id only when it has no subcategories.
func (n *Navigator) CurrentLeafId() (types.CategoryId, bool) {
	if len(n.path) == 0 {
		return 0, false
	}
	last := n.nodes[n.path[len(n.path)-1]]
	if !last.IsLeaf() {
		return 0, false
	}
	return last.Id, true
}

// CurrentId returns the last selected id, leaf or not.
func (n *Navigator) CurrentId() (types.CategoryId, bool) {
	if len(n.path) == 0 {
		return 0, false
	}
	return n.path[len(n.path)-1], true
}

func (n *Navigator) Clear() {
	n.path = nil
}

func (n *Navigator) Path() []types.Category {
	ret := make([]types.Category, 0, len(n.path))
	for _, id := range n.path {
		ret = append(ret, n.copyOf(n.nodes[id]))
	}
	return ret
}

// PathLabel joins the names of the selected path, "SUV / Compact".
func (n *Navigator) PathLabel() string {
	return Label(n.Path())
}

// Label joins category names the way PathLabel does.
func Label(path []types.Category) string {
	names := make([]string, 0, len(path))
	for _, c := range path {
		names = append(names, c.Name)
	}
	return strings.Join(names, " / ")
}

// PathTo returns the categories from a root down to id by following the
// parent links. It does not change the selection.
func (n *Navigator) PathTo(id types.CategoryId) ([]types.Category, bool) {
	var ret []types.Category
	for next := &id; next != nil; {
		c, ok := n.nodes[*next]
		if !ok || len(ret) > len(n.nodes) {
			return nil, false
		}
		ret = append(ret, n.copyOf(c))
		next = c.ParentId
	}
	slices.Reverse(ret)
	return ret, true
}

// Levels returns the choices per level. Level 0 is the roots, level k the
// children of the node selected at k-1 as long as it has any.
func (n *Navigator) Levels() [][]types.Category {
	levels := [][]types.Category{n.categories(n.roots)}
	for _, id := range n.path {
		c := n.nodes[id]
		if c.IsLeaf() {
			break
		}
		levels = append(levels, n.categories(c.Children))
	}
	return levels
}

func (n *Navigator) Roots() []types.Category {
	return n.categories(n.roots)
}

func (n *Navigator) Node(id types.CategoryId) (types.Category, bool) {
	c, ok := n.nodes[id]
	if !ok {
		return types.Category{}, false
	}
	return n.copyOf(c), true
}

func (n *Navigator) Len() int {
	return len(n.nodes)
}

// Find resolves a path of names, compared case-insensitively, to ids.
func (n *Navigator) Find(names ...string) ([]types.CategoryId, error) {
	ret := make([]types.CategoryId, 0, len(names))
	level := n.roots
	for _, name := range names {
		id, ok := n.childNamed(level, name)
		if !ok {
			return ret, fmt.Errorf("%w: %q", types.ErrUnknownCategory, name)
		}
		ret = append(ret, id)
		level = n.nodes[id].Children
	}
	return ret, nil
}

// AddLocal inserts a category the user typed that does not exist server side
// yet. It gets the next negative id. Names are unique per parent, compared
// case-insensitively.
func (n *Navigator) AddLocal(parent *types.CategoryId, name string) (types.Category, error) {
	c, err := n.insert(n.nextLocal, parent, name)
	if err != nil {
		return c, err
	}
	n.nextLocal--
	return c, nil
}

// Local returns the categories created with AddLocal that are still in the tree.
func (n *Navigator) Local() []types.Category {
	ret := make([]types.Category, 0, len(n.locals))
	for _, local := range n.locals {
		if c, ok := n.nodes[local.Id]; ok {
			ret = append(ret, n.copyOf(c))
		}
	}
	return ret
}

func (n *Navigator) insert(id types.CategoryId, parent *types.CategoryId, name string) (types.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Category{}, types.InvalidOperation("empty category name")
	}
	siblings := n.roots
	if parent != nil {
		p, ok := n.nodes[*parent]
		if !ok {
			return types.Category{}, fmt.Errorf("%w: parent %d", types.ErrUnknownCategory, *parent)
		}
		siblings = p.Children
	}
	if existing, found := n.childNamed(siblings, name); found {
		return types.Category{}, fmt.Errorf("%w: %q exists as %d", types.ErrDuplicateCategory, name, existing)
	}
	c := &types.Category{Id: id, Name: name}
	if parent != nil {
		c.ParentId = types.CategoryIdPtr(*parent)
		p := n.nodes[*parent]
		p.Children = append(p.Children, id)
	} else {
		n.roots = append(n.roots, id)
	}
	n.nodes[id] = c
	if id.IsLocal() {
		n.locals = append(n.locals, *c)
	}
	return n.copyOf(c), nil
}

func (n *Navigator) childNamed(ids []types.CategoryId, name string) (types.CategoryId, bool) {
	name = strings.TrimSpace(name)
	for _, id := range ids {
		if strings.EqualFold(strings.TrimSpace(n.nodes[id].Name), name) {
			return id, true
		}
	}
	return 0, false
}

func (n *Navigator) categories(ids []types.CategoryId) []types.Category {
	ret := make([]types.Category, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, n.copyOf(n.nodes[id]))
	}
	return ret
}

func (n *Navigator) copyOf(c *types.Category) types.Category {
	ret := *c
	ret.Children = slices.Clone(c.Children)
	if c.ParentId != nil {
		ret.ParentId = types.CategoryIdPtr(*c.ParentId)
	}
	return ret
}
