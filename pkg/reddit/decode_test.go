package reddit

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"threadcrawl/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treeFixture = `[
  {"kind": "Listing", "data": {"after": null, "children": [
    {"kind": "t3", "data": {"id": "p1", "name": "t3_p1", "subreddit": "golang", "author": "op",
      "title": "Hello", "selftext": "body", "created_utc": 1700000000.5, "score": 10, "ups": 12,
      "downs": 2, "upvote_ratio": 0.83, "num_comments": 4}}
  ]}},
  {"kind": "Listing", "data": {"after": null, "children": [
    {"kind": "t1", "data": {"id": "c1", "name": "t1_c1", "parent_id": "t3_p1", "link_id": "t3_p1",
      "author": "a", "body": "first", "depth": 0, "replies": {"kind": "Listing", "data": {"children": [
        {"kind": "t1", "data": {"id": "c2", "name": "t1_c2", "parent_id": "t1_c1", "link_id": "t3_p1",
          "author": "b", "body": "nested", "depth": 1, "replies": ""}},
        {"kind": "more", "data": {"id": "m1", "name": "t1_m1", "parent_id": "t1_c1", "count": 2,
          "children": ["c3", "c4"]}}
      ]}}}},
    {"kind": "t1", "data": {"id": "c5", "name": "t1_c5", "parent_id": "t3_p1", "link_id": "t3_p1",
      "author": "c", "body": "second", "depth": 0, "replies": ""}},
    {"kind": "more", "data": {"id": "_", "name": "t1__", "parent_id": "t3_p1", "count": 0, "children": []}}
  ]}}
]`

func TestDecodeTree(t *testing.T) {
	root, children, err := decodeTree([]byte(treeFixture))
	require.NoError(t, err)

	assert.Equal(t, "t3_p1", root.Name)
	assert.Equal(t, "golang", root.Subreddit)
	assert.Equal(t, "body", root.Body)
	assert.Equal(t, 4, root.NumComments)
	assert.Equal(t, models.Score{Score: 10, Ups: 12, Downs: 2, UpvoteRatio: 0.83}, root.Score)
	assert.Equal(t, time.Unix(1700000000, 500000000).UTC(), root.CreatedAt)

	require.Len(t, children, 3)
	c1, ok := children[0].(*models.Comment)
	require.True(t, ok)
	assert.Equal(t, "t1_c1", c1.Name)
	assert.Equal(t, "t3_p1", c1.ParentID)

	require.Len(t, c1.Children, 2)
	assert.Equal(t, "t1_c2", c1.Children[0].Fullname())
	more, ok := c1.Children[1].(*models.Placeholder)
	require.True(t, ok)
	assert.Equal(t, []string{"c3", "c4"}, more.ChildIDs)
	assert.Equal(t, "t1_c1", more.ParentID)
	assert.Equal(t, "t3_p1", more.RootID)
	assert.Equal(t, 2, more.Count)

	assert.Equal(t, "t1_c5", children[1].Fullname())
	empty, ok := children[2].(*models.Placeholder)
	require.True(t, ok)
	assert.True(t, empty.Empty())
}

func TestDecodeTreeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"single listing", `[{"kind":"Listing","data":{"children":[]}}]`},
		{"no post", `[{"kind":"Listing","data":{"children":[]}},{"kind":"Listing","data":{"children":[]}}]`},
		{"bad replies", `[{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"p"}}]}},
			{"kind":"Listing","data":{"children":[{"kind":"t1","data":{"id":"c","replies":{"kind":"Listing","data":[]}}}]}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeTree([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDecodeDeepTreeIteratively(t *testing.T) {
	const depth = 1000

	var b strings.Builder
	b.WriteString(`[{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"p","name":"t3_p"}}]}},`)
	b.WriteString(`{"kind":"Listing","data":{"children":[`)
	for i := 0; i < depth; i++ {
		parent := "t3_p"
		if i > 0 {
			parent = fmt.Sprintf("t1_c%d", i-1)
		}
		fmt.Fprintf(&b, `{"kind":"t1","data":{"id":"c%d","name":"t1_c%d","parent_id":"%s","replies":`, i, i, parent)
		if i < depth-1 {
			b.WriteString(`{"kind":"Listing","data":{"children":[`)
		} else {
			b.WriteString(`""`)
		}
	}
	for i := depth - 1; i >= 0; i-- {
		if i < depth-1 {
			b.WriteString(`]}}`)
		}
		b.WriteString(`}}`)
	}
	b.WriteString(`]}}]`)

	_, children, err := decodeTree([]byte(b.String()))
	require.NoError(t, err)

	n := 0
	node := children[0]
	for {
		n++
		c := node.(*models.Comment)
		if len(c.Children) == 0 {
			break
		}
		node = c.Children[0]
	}
	assert.Equal(t, depth, n)
}

func TestDecodeListing(t *testing.T) {
	body := `{"kind":"Listing","data":{"after":"t3_b","children":[
		{"kind":"t3","data":{"id":"a","name":"t3_a","num_comments":0}},
		{"kind":"t5","data":{}},
		{"kind":"t3","data":{"id":"b","num_comments":3}}
	]}}`

	page, err := decodeListing([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "t3_b", page.After)
	require.Len(t, page.Roots, 2)
	assert.Equal(t, "t3_a", page.Roots[0].Name)
	assert.Equal(t, "t3_b", page.Roots[1].Name, "missing name is derived from id")
	assert.Equal(t, 3, page.Roots[1].NumComments)
}

func TestDecodeListingNullCursor(t *testing.T) {
	page, err := decodeListing([]byte(`{"kind":"Listing","data":{"after":null,"children":[]}}`))
	require.NoError(t, err)
	assert.Empty(t, page.After)
	assert.Empty(t, page.Roots)

	_, err = decodeListing([]byte(`{"kind":"t5","data":{}}`))
	assert.Error(t, err)
}

func TestDecodeMoreChildren(t *testing.T) {
	body := `{"json":{"errors":[],"data":{"things":[
		{"kind":"t1","data":{"id":"c3","name":"t1_c3","parent_id":"t1_c1","body":"x","replies":""}},
		{"kind":"t1","data":{"id":"c6","name":"t1_c6","parent_id":"t1_c3","body":"y","replies":""}},
		{"kind":"more","data":{"id":"m2","name":"t1_m2","parent_id":"t1_c1","count":1,"children":["c4"]}}
	]}}}`

	nodes, err := decodeMoreChildren([]byte(body), "t3_p1")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	c3 := nodes[0].(*models.Comment)
	assert.Equal(t, "t3_p1", c3.LinkID, "link id falls back to the request's root")
	assert.Equal(t, "t1_c3", nodes[1].ParentFullname())
	assert.Equal(t, "t3_p1", nodes[2].(*models.Placeholder).RootID)

	_, err = decodeMoreChildren([]byte(`{"json":{"errors":[["BAD","bad",""]]}}`), "t3_p1")
	assert.Error(t, err)
}

func TestDecodeAbout(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		found  bool
		public bool
	}{
		{"public", `{"kind":"t5","data":{"display_name":"golang","subreddit_type":"public","over18":false}}`, true, true},
		{"nsfw", `{"kind":"t5","data":{"subreddit_type":"public","over18":true}}`, true, false},
		{"restricted", `{"kind":"t5","data":{"subreddit_type":"restricted","over18":false}}`, true, false},
		{"missing flags", `{"kind":"t5","data":{"display_name":"x"}}`, false, false},
		{"search listing", `{"kind":"Listing","data":{"children":[]}}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			about, err := decodeAbout([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.found, about.Found())
			assert.Equal(t, tt.public, about.Public())
		})
	}
}
