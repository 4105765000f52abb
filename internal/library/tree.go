package library

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound indicates the relative path has no tree node.
	ErrNotFound = errors.New("library item not found")
	// ErrNotContainer indicates a child operation targeted a book.
	ErrNotContainer = errors.New("item is not a folder")
	// ErrPathCollision indicates a mutation would produce two items with the
	// same relative path.
	ErrPathCollision = errors.New("relative path collision")
	// ErrInvalidMove indicates an attempt to move a folder into itself or one
	// of its descendants.
	ErrInvalidMove = errors.New("cannot move a folder into its own subtree")
)

type node struct {
	item     Item
	parent   *node
	children []*node
}

// Tree is the in-memory arena of library nodes. The zero value is not usable;
// construct with NewTree. Tree methods mutate memory only; persistence and
// file moves live in Store.
//
// Ownership flows parent to child. The parent back-reference exists for the
// O(depth) completion walk and never outlives its node.
type Tree struct {
	root  *node
	index map[string]*node
}

// NewTree returns an empty tree with a synthetic root.
func NewTree() *Tree {
	return &Tree{
		root:  &node{item: Item{Kind: KindFolder}},
		index: make(map[string]*node),
	}
}

// PathChange records one relative-path move produced by a structural mutation.
type PathChange struct {
	OldPath string
	NewPath string
}

// Len returns the number of items in the tree.
func (t *Tree) Len() int { return len(t.index) }

// Item returns a copy of the item at the given relative path.
func (t *Tree) Item(relativePath string) (Item, bool) {
	n, ok := t.index[relativePath]
	if !ok {
		return Item{}, false
	}
	return n.item, true
}

// Contains reports whether the relative path exists in the tree.
func (t *Tree) Contains(relativePath string) bool {
	_, ok := t.index[relativePath]
	return ok
}

// Children returns copies of the ordered children of the given container, or
// of the root when relativePath is empty.
func (t *Tree) Children(relativePath string) ([]Item, error) {
	parent, err := t.container(relativePath)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(parent.children))
	for _, child := range parent.children {
		items = append(items, child.item)
	}
	return items, nil
}

// Walk visits every item depth-first in sibling order.
func (t *Tree) Walk(visit func(Item)) {
	var walk func(n *node)
	walk = func(n *node) {
		for _, child := range n.children {
			visit(child.item)
			walk(child)
		}
	}
	walk(t.root)
}

// Insert adds item under the given parent ("" for root), appending to the end
// of the sibling list. An item already present elsewhere is detached first so
// the single-parent invariant holds unconditionally.
func (t *Tree) Insert(item Item, parentPath string) error {
	return t.InsertAt(item, parentPath, -1)
}

// InsertAt inserts item at the given sibling index; index -1 or past the end
// appends. Only the ranks of siblings at or after the insertion point are
// renumbered.
func (t *Tree) InsertAt(item Item, parentPath string, index int) error {
	parent, err := t.container(parentPath)
	if err != nil {
		return err
	}

	if existing, ok := t.index[item.RelativePath]; ok && item.RelativePath != "" {
		// Implicit detach: inserting an item that is already in the tree
		// re-parents it instead of duplicating it.
		if _, err := t.Move(item.RelativePath, parentPath); err != nil {
			return err
		}
		if index >= 0 {
			t.detach(existing)
			return t.attach(existing, parent, index)
		}
		return nil
	}

	newPath := ChildPath(parentPath, item.OriginalFileName)
	if t.Contains(newPath) {
		return fmt.Errorf("%w: %s", ErrPathCollision, newPath)
	}

	item.RelativePath = newPath
	n := &node{item: item}
	return t.attach(n, parent, index)
}

// Move re-parents the item at relativePath under newParentPath and returns the
// relative-path changes for the item and, for containers, its whole subtree.
// The tree is left untouched when the move would collide or create a cycle.
func (t *Tree) Move(relativePath, newParentPath string) ([]PathChange, error) {
	n, ok := t.index[relativePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	parent, err := t.container(newParentPath)
	if err != nil {
		return nil, err
	}
	if relativePath == newParentPath || IsDescendantPath(newParentPath, relativePath) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidMove, relativePath, newParentPath)
	}

	newPath := ChildPath(newParentPath, n.item.OriginalFileName)
	if newPath != relativePath && t.Contains(newPath) {
		return nil, fmt.Errorf("%w: %s", ErrPathCollision, newPath)
	}

	changes := t.collectPathChanges(n, newPath)
	t.detach(n)
	t.applyPathChanges(changes)
	if err := t.attach(n, parent, -1); err != nil {
		return nil, err
	}
	return changes, nil
}

// RenameFolder retitles the folder at relativePath and recomputes the relative
// path of every descendant. It fails without mutating anything when the new
// name collides with a sibling or any recomposed descendant path collides.
func (t *Tree) RenameFolder(relativePath, newTitle string) ([]PathChange, error) {
	n, ok := t.index[relativePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if !n.item.IsContainer() {
		return nil, fmt.Errorf("%w: %s", ErrNotContainer, relativePath)
	}

	fileName := FolderFileName(newTitle)
	newPath := ChildPath(parentOf(relativePath), fileName)
	if newPath != relativePath {
		if t.Contains(newPath) {
			return nil, fmt.Errorf("%w: %s", ErrPathCollision, newPath)
		}
	}

	changes := t.collectPathChanges(n, newPath)
	for _, change := range changes[1:] {
		if existing, ok := t.index[change.NewPath]; ok && !inSubtree(existing, n) {
			return nil, fmt.Errorf("%w: %s", ErrPathCollision, change.NewPath)
		}
	}

	n.item.Title = newTitle
	n.item.OriginalFileName = fileName
	t.applyPathChanges(changes)
	return changes, nil
}

// DeleteDeep removes the item and its whole subtree, returning the removed
// items in post-order (deepest first, target last).
func (t *Tree) DeleteDeep(relativePath string) ([]Item, error) {
	n, ok := t.index[relativePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}

	var removed []Item
	var collect func(n *node)
	collect = func(n *node) {
		for _, child := range n.children {
			collect(child)
		}
		removed = append(removed, n.item)
		delete(t.index, n.item.RelativePath)
	}
	collect(n)
	t.detach(n)
	return removed, nil
}

// DeleteShallow removes a folder while re-parenting its direct children to the
// folder's former parent, preserving their original sibling order at the end
// of the new parent's child list. It returns the children's path changes.
func (t *Tree) DeleteShallow(relativePath string) ([]PathChange, error) {
	n, ok := t.index[relativePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if !n.item.IsContainer() {
		return nil, fmt.Errorf("%w: %s", ErrNotContainer, relativePath)
	}

	newParentPath := parentOf(relativePath)
	var all []PathChange
	for _, child := range n.children {
		newPath := ChildPath(newParentPath, child.item.OriginalFileName)
		if t.Contains(newPath) {
			return nil, fmt.Errorf("%w: %s", ErrPathCollision, newPath)
		}
		all = append(all, t.collectPathChanges(child, newPath)...)
	}

	newParent := n.parent
	children := append([]*node(nil), n.children...)
	t.detach(n)
	delete(t.index, relativePath)
	t.applyPathChanges(all)
	for _, child := range children {
		child.parent = newParent
		child.item.OrderRank = len(newParent.children)
		newParent.children = append(newParent.children, child)
	}
	return all, nil
}

// SetFinished flips a book's finished flag and recomputes the derived state of
// every ancestor folder. It returns the items whose finished flag changed,
// nearest first.
func (t *Tree) SetFinished(relativePath string, finished bool) ([]Item, error) {
	n, ok := t.index[relativePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}

	var changed []Item
	if n.item.IsFinished != finished {
		n.item.IsFinished = finished
		if finished {
			n.item.PercentCompleted = 100
		}
		changed = append(changed, n.item)
	}

	for ancestor := n.parent; ancestor != nil && ancestor != t.root; ancestor = ancestor.parent {
		derived := deriveFinished(ancestor)
		if ancestor.item.IsFinished == derived {
			break
		}
		ancestor.item.IsFinished = derived
		changed = append(changed, ancestor.item)
	}
	return changed, nil
}

// Update replaces the stored fields of the item at relativePath using the
// provided mutation func. Structural fields (path, rank, filename) are
// preserved; use the structural operations for those.
func (t *Tree) Update(relativePath string, mutate func(*Item)) (Item, error) {
	n, ok := t.index[relativePath]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	preserved := struct {
		path string
		rank int
		name string
		kind Kind
	}{n.item.RelativePath, n.item.OrderRank, n.item.OriginalFileName, n.item.Kind}

	mutate(&n.item)
	n.item.RelativePath = preserved.path
	n.item.OrderRank = preserved.rank
	n.item.OriginalFileName = preserved.name
	n.item.Kind = preserved.kind
	return n.item, nil
}

func (t *Tree) container(relativePath string) (*node, error) {
	if relativePath == "" {
		return t.root, nil
	}
	n, ok := t.index[relativePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if !n.item.IsContainer() {
		return nil, fmt.Errorf("%w: %s", ErrNotContainer, relativePath)
	}
	return n, nil
}

func (t *Tree) attach(n *node, parent *node, index int) error {
	if index < 0 || index > len(parent.children) {
		index = len(parent.children)
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[index+1:], parent.children[index:])
	parent.children[index] = n
	n.parent = parent

	// Renumber only the tail starting at the insertion point.
	for i := index; i < len(parent.children); i++ {
		parent.children[i].item.OrderRank = i
	}
	t.index[n.item.RelativePath] = n
	return nil
}

func (t *Tree) detach(n *node) {
	parent := n.parent
	if parent == nil {
		return
	}
	for i, child := range parent.children {
		if child == n {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			for j := i; j < len(parent.children); j++ {
				parent.children[j].item.OrderRank = j
			}
			break
		}
	}
	n.parent = nil
}

// collectPathChanges computes the old->new path mapping for n and its subtree
// if n were to live at newPath. The first entry is n itself.
func (t *Tree) collectPathChanges(n *node, newPath string) []PathChange {
	changes := []PathChange{{OldPath: n.item.RelativePath, NewPath: newPath}}
	var walk func(n *node, base string)
	walk = func(n *node, base string) {
		for _, child := range n.children {
			childPath := ChildPath(base, child.item.OriginalFileName)
			changes = append(changes, PathChange{OldPath: child.item.RelativePath, NewPath: childPath})
			walk(child, childPath)
		}
	}
	walk(n, newPath)
	return changes
}

func (t *Tree) applyPathChanges(changes []PathChange) {
	// Remove all old keys first so overlapping old/new paths cannot clobber
	// a node mid-rekey.
	nodes := make([]*node, len(changes))
	for i, change := range changes {
		nodes[i] = t.index[change.OldPath]
		delete(t.index, change.OldPath)
	}
	for i, change := range changes {
		if nodes[i] == nil {
			continue
		}
		nodes[i].item.RelativePath = change.NewPath
		t.index[change.NewPath] = nodes[i]
	}
}

func deriveFinished(n *node) bool {
	if len(n.children) == 0 {
		return false
	}
	for _, child := range n.children {
		if !child.item.IsFinished {
			return false
		}
	}
	return true
}

func inSubtree(n, ancestor *node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// sortChildren restores sibling order from persisted order ranks after load.
func (t *Tree) sortChildren() {
	var walk func(n *node)
	walk = func(n *node) {
		sort.SliceStable(n.children, func(i, j int) bool {
			return n.children[i].item.OrderRank < n.children[j].item.OrderRank
		})
		for i, child := range n.children {
			child.item.OrderRank = i
			walk(child)
		}
	}
	walk(t.root)
}
