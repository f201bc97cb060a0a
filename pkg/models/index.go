package models

// NodeIndex holds the roots of a task in listing order plus flat lookup
// maps keyed by fullname.
type NodeIndex struct {
	Roots []*Root

	roots    map[string]*Root
	comments map[string]*Comment
	order    []string
}

// NewNodeIndex indexes roots, keeping their order. Duplicate roots are
// ignored.
func NewNodeIndex(roots []*Root) *NodeIndex {
	ix := &NodeIndex{
		roots:    make(map[string]*Root, len(roots)),
		comments: make(map[string]*Comment),
	}
	for _, r := range roots {
		ix.AddRoot(r)
	}
	return ix
}

// AddRoot appends r unless a root with the same fullname is present.
func (ix *NodeIndex) AddRoot(r *Root) bool {
	if _, ok := ix.roots[r.Name]; ok {
		return false
	}
	ix.roots[r.Name] = r
	ix.Roots = append(ix.Roots, r)
	return true
}

// Root looks up a root by fullname.
func (ix *NodeIndex) Root(fullname string) (*Root, bool) {
	r, ok := ix.roots[fullname]
	return r, ok
}

// Comment looks up a comment by fullname.
func (ix *NodeIndex) Comment(fullname string) (*Comment, bool) {
	c, ok := ix.comments[fullname]
	return c, ok
}

// InsertComment adds c to the index. It returns false, leaving the index
// untouched, when the comment is already present.
func (ix *NodeIndex) InsertComment(c *Comment) bool {
	if _, ok := ix.comments[c.Name]; ok {
		return false
	}
	ix.comments[c.Name] = c
	ix.order = append(ix.order, c.Name)
	return true
}

// Parent resolves a parent fullname by its prefix: t1_ against the comment
// map, t3_ against the root map.
func (ix *NodeIndex) Parent(fullname string) (Parent, bool) {
	switch KindOf(fullname) {
	case KindComment:
		if c, ok := ix.comments[fullname]; ok {
			return c, true
		}
	case KindRoot:
		if r, ok := ix.roots[fullname]; ok {
			return r, true
		}
	}
	return nil, false
}

// Comments returns every indexed comment in insertion order.
func (ix *NodeIndex) Comments() []*Comment {
	out := make([]*Comment, 0, len(ix.order))
	for _, name := range ix.order {
		out = append(out, ix.comments[name])
	}
	return out
}

// CommentCount returns the number of indexed comments.
func (ix *NodeIndex) CommentCount() int {
	return len(ix.comments)
}

// Walk visits every node reachable from the roots breadth-first, roots
// first. It stops early when fn returns false.
func (ix *NodeIndex) Walk(fn func(Node) bool) {
	queue := make([]Node, 0, len(ix.Roots))
	for _, r := range ix.Roots {
		queue = append(queue, r)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !fn(n) {
			return
		}
		if p, ok := n.(Parent); ok {
			queue = append(queue, p.ChildNodes()...)
		}
	}
}

// Placeholders returns the placeholders still present in the trees.
func (ix *NodeIndex) Placeholders() []*Placeholder {
	var out []*Placeholder
	ix.Walk(func(n Node) bool {
		if p, ok := n.(*Placeholder); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Resolved reports whether no placeholder remains and every root's tree
// has been fetched or needs none.
func (ix *NodeIndex) Resolved() bool {
	for _, r := range ix.Roots {
		if !r.Loaded && r.NumComments > 0 {
			return false
		}
	}
	return len(ix.Placeholders()) == 0
}
