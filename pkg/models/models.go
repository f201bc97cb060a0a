// Package models holds the discussion tree: roots, comments and the
// placeholder nodes that stand in for replies the server did not inline.
package models

import (
	"strings"
	"time"
)

// Kind discriminates the three node variants.
type Kind int

const (
	KindUnknown Kind = iota
	KindRoot
	KindComment
	KindPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindComment:
		return "comment"
	case KindPlaceholder:
		return "placeholder"
	default:
		return "unknown"
	}
}

// Fullname prefixes used by the remote API.
const (
	PrefixComment = "t1_"
	PrefixRoot    = "t3_"
)

// KindOf classifies a fullname by its prefix. Placeholders share the
// comment prefix and are reported as comments.
func KindOf(fullname string) Kind {
	switch {
	case strings.HasPrefix(fullname, PrefixComment):
		return KindComment
	case strings.HasPrefix(fullname, PrefixRoot):
		return KindRoot
	default:
		return KindUnknown
	}
}

// RootFullname returns the t3_ fullname for a bare post id.
func RootFullname(id string) string {
	if strings.HasPrefix(id, PrefixRoot) {
		return id
	}
	return PrefixRoot + id
}

// CommentFullname returns the t1_ fullname for a bare comment id.
func CommentFullname(id string) string {
	if strings.HasPrefix(id, PrefixComment) {
		return id
	}
	return PrefixComment + id
}

// Node is one of *Root, *Comment or *Placeholder.
type Node interface {
	Kind() Kind
	Fullname() string
	ParentFullname() string
	sealed()
}

// Parent is a node that owns an ordered child list.
type Parent interface {
	Node
	ChildNodes() []Node
	AppendChild(n Node)
	ReplaceChild(old Node, with []Node) bool
	RemoveChild(old Node) bool
}

// Score is the engagement tuple reported for posts and comments.
type Score struct {
	Score       int     `json:"score"`
	Ups         int     `json:"ups"`
	Downs       int     `json:"downs"`
	UpvoteRatio float64 `json:"upvote_ratio,omitempty"`
}

// Root is a post.
type Root struct {
	ID          string
	Name        string
	Subreddit   string
	Author      string
	Title       string
	Body        string
	URL         string
	Permalink   string
	CreatedAt   time.Time
	Score       Score
	NumComments int
	Children    []Node
	// Loaded is set once the comment tree has been fetched.
	Loaded bool
}

func (r *Root) Kind() Kind             { return KindRoot }
func (r *Root) Fullname() string       { return r.Name }
func (r *Root) ParentFullname() string { return "" }
func (r *Root) sealed()                {}

func (r *Root) ChildNodes() []Node { return r.Children }
func (r *Root) AppendChild(n Node) { r.Children = append(r.Children, n) }

func (r *Root) ReplaceChild(old Node, with []Node) bool {
	return replaceIn(&r.Children, old, with)
}

func (r *Root) RemoveChild(old Node) bool {
	return replaceIn(&r.Children, old, nil)
}

// Comment is a reply to a root or to another comment.
type Comment struct {
	ID        string
	Name      string
	ParentID  string
	LinkID    string
	Author    string
	Body      string
	CreatedAt time.Time
	Score     Score
	Depth     int
	Children  []Node
}

func (c *Comment) Kind() Kind             { return KindComment }
func (c *Comment) Fullname() string       { return c.Name }
func (c *Comment) ParentFullname() string { return c.ParentID }
func (c *Comment) sealed()                {}

func (c *Comment) ChildNodes() []Node { return c.Children }
func (c *Comment) AppendChild(n Node) { c.Children = append(c.Children, n) }

func (c *Comment) ReplaceChild(old Node, with []Node) bool {
	return replaceIn(&c.Children, old, with)
}

func (c *Comment) RemoveChild(old Node) bool {
	return replaceIn(&c.Children, old, nil)
}

// Placeholder marks replies that exist remotely but were not delivered
// inline. It owns no content.
type Placeholder struct {
	ID       string
	Name     string
	ParentID string
	RootID   string
	ChildIDs []string
	Count    int
}

func (p *Placeholder) Kind() Kind             { return KindPlaceholder }
func (p *Placeholder) Fullname() string       { return p.Name }
func (p *Placeholder) ParentFullname() string { return p.ParentID }
func (p *Placeholder) sealed()                {}

// Empty reports whether the placeholder names no children. Such markers
// are dropped instead of resolved.
func (p *Placeholder) Empty() bool { return len(p.ChildIDs) == 0 }

// replaceIn swaps old (compared by identity) for with, keeping the
// position. It reports whether old was found.
func replaceIn(list *[]Node, old Node, with []Node) bool {
	for i, n := range *list {
		if n != old {
			continue
		}
		out := make([]Node, 0, len(*list)-1+len(with))
		out = append(out, (*list)[:i]...)
		out = append(out, with...)
		out = append(out, (*list)[i+1:]...)
		*list = out
		return true
	}
	return false
}
