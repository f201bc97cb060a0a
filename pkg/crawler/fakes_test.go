package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"threadcrawl/pkg/models"
	"threadcrawl/pkg/reddit"
)

// fakeAPI serves canned listings, trees and placeholder expansions. Trees
// and expansions are built fresh on every call because the resolver
// mutates the nodes it receives.
type fakeAPI struct {
	mu sync.Mutex

	pages    map[string]*reddit.Page
	trees    map[string]func() []models.Node
	more     map[string]func() []models.Node
	about    *reddit.About
	aboutErr error
	treeErr  error
	// onTree runs at the start of every Tree call.
	onTree func()

	listingCalls int
	treeCalls    int
	moreCalls    int
	aboutCalls   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages: make(map[string]*reddit.Page),
		trees: make(map[string]func() []models.Node),
		more:  make(map[string]func() []models.Node),
		about: publicAbout(),
	}
}

func publicAbout() *reddit.About {
	over18 := false
	return &reddit.About{Name: "golang", SubredditType: "public", Over18: &over18}
}

func (f *fakeAPI) Listing(ctx context.Context, subreddit, sort, after string, limit int) (*reddit.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listingCalls++
	page, ok := f.pages[after]
	if !ok {
		return &reddit.Page{}, nil
	}
	return page, nil
}

func (f *fakeAPI) Tree(ctx context.Context, rootID string, depth, limit int) (*models.Root, []models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treeCalls++
	if f.onTree != nil {
		f.onTree()
	}
	if f.treeErr != nil {
		return nil, nil, f.treeErr
	}
	build, ok := f.trees[rootID]
	if !ok {
		return nil, []models.Node{}, nil
	}
	return nil, build(), nil
}

func (f *fakeAPI) MoreChildren(ctx context.Context, linkID string, ids []string) ([]models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moreCalls++
	build, ok := f.more[strings.Join(ids, ",")]
	if !ok {
		return nil, fmt.Errorf("unexpected morechildren call for %v", ids)
	}
	return build(), nil
}

func (f *fakeAPI) About(ctx context.Context, subreddit string) (*reddit.About, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aboutCalls++
	if f.aboutErr != nil {
		return nil, f.aboutErr
	}
	return f.about, nil
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listingCalls + f.treeCalls + f.moreCalls + f.aboutCalls
}

// countingBudget admits limit calls, or any number when limit < 0, then
// terminates.
type countingBudget struct {
	mu         sync.Mutex
	limit      int
	spent      int
	flushes    int
	terminated bool
}

func unlimited() *countingBudget { return &countingBudget{limit: -1} }

func (b *countingBudget) Acquire(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return false, nil
	}
	if b.limit >= 0 && b.spent >= b.limit {
		b.terminated = true
		return false, nil
	}
	b.spent++
	return true, nil
}

func (b *countingBudget) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	return nil
}

func (b *countingBudget) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}

func (b *countingBudget) Spent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAuth) Headers(ctx context.Context) (http.Header, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	h := make(http.Header)
	h.Set("Authorization", "bearer test")
	return h, nil
}

func root(id string, comments int) *models.Root {
	return &models.Root{
		ID:          id,
		Name:        models.RootFullname(id),
		Subreddit:   "golang",
		Author:      "author_" + id,
		Title:       "Post " + id,
		NumComments: comments,
	}
}

func comment(id, parent, author, body string) *models.Comment {
	return &models.Comment{
		ID:       id,
		Name:     models.CommentFullname(id),
		ParentID: parent,
		Author:   author,
		Body:     body,
	}
}

func placeholder(id, parent string, children ...string) *models.Placeholder {
	return &models.Placeholder{
		ID:       id,
		Name:     models.CommentFullname(id),
		ParentID: parent,
		ChildIDs: children,
		Count:    len(children),
	}
}

func childNames(p models.Parent) []string {
	var out []string
	for _, n := range p.ChildNodes() {
		out = append(out, n.Fullname())
	}
	return out
}
