package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"threadcrawl/pkg/models"
)

// Remote kinds. They are discriminated here and nowhere else.
const (
	kindComment = "t1"
	kindPost    = "t3"
	kindAbout   = "t5"
	kindMore    = "more"
	kindListing = "Listing"
)

// thing is the envelope every API object arrives in.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingData struct {
	After    *string `json:"after"`
	Children []thing `json:"children"`
}

type postData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	Ups         int     `json:"ups"`
	Downs       int     `json:"downs"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
}

type commentData struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ParentID   string          `json:"parent_id"`
	LinkID     string          `json:"link_id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	CreatedUTC float64         `json:"created_utc"`
	Score      int             `json:"score"`
	Ups        int             `json:"ups"`
	Downs      int             `json:"downs"`
	Depth      int             `json:"depth"`
	Replies    json.RawMessage `json:"replies"`
}

type moreData struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parent_id"`
	Count    int      `json:"count"`
	Children []string `json:"children"`
}

type aboutData struct {
	DisplayName   string `json:"display_name"`
	SubredditType string `json:"subreddit_type"`
	Over18        *bool  `json:"over18"`
}

type moreChildrenResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			Things []thing `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// Page is one listing page.
type Page struct {
	Roots []*models.Root
	// After is the cursor of the next page; empty when there is none.
	After string
}

// About holds the visibility flags of a subreddit.
type About struct {
	Name          string
	SubredditType string
	Over18        *bool
}

// Found reports whether the response described an existing subreddit.
// The API answers unknown names with a document lacking both flags.
func (a *About) Found() bool {
	return a.SubredditType != "" || a.Over18 != nil
}

// Public reports whether the subreddit is public and not marked NSFW.
func (a *About) Public() bool {
	return a.SubredditType == "public" && a.Over18 != nil && !*a.Over18
}

func decodeListing(body []byte) (*Page, error) {
	var env thing
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if env.Kind != kindListing {
		return nil, fmt.Errorf("decode listing: unexpected kind %q", env.Kind)
	}

	var data listingData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode listing data: %w", err)
	}

	page := &Page{Roots: make([]*models.Root, 0, len(data.Children))}
	if data.After != nil {
		page.After = *data.After
	}
	for _, child := range data.Children {
		if child.Kind != kindPost {
			continue
		}
		root, err := decodeRoot(child.Data)
		if err != nil {
			return nil, err
		}
		page.Roots = append(page.Roots, root)
	}
	return page, nil
}

// decodeTree decodes the two-listing tree response: the root's metadata
// followed by its top-level children, each comment carrying its inline
// replies.
func decodeTree(body []byte) (*models.Root, []models.Node, error) {
	var pair []thing
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, nil, fmt.Errorf("decode tree: %w", err)
	}
	if len(pair) != 2 {
		return nil, nil, fmt.Errorf("decode tree: expected 2 listings, got %d", len(pair))
	}

	var head listingData
	if err := json.Unmarshal(pair[0].Data, &head); err != nil {
		return nil, nil, fmt.Errorf("decode tree root: %w", err)
	}
	var root *models.Root
	for _, child := range head.Children {
		if child.Kind != kindPost {
			continue
		}
		r, err := decodeRoot(child.Data)
		if err != nil {
			return nil, nil, err
		}
		root = r
		break
	}
	if root == nil {
		return nil, nil, fmt.Errorf("decode tree: response carries no post")
	}

	var body2 listingData
	if err := json.Unmarshal(pair[1].Data, &body2); err != nil {
		return nil, nil, fmt.Errorf("decode tree comments: %w", err)
	}
	children, err := decodeForest(body2.Children, root.Name)
	if err != nil {
		return nil, nil, err
	}
	return root, children, nil
}

// decodeMoreChildren decodes the flat node list returned for a placeholder.
func decodeMoreChildren(body []byte, linkID string) ([]models.Node, error) {
	var resp moreChildrenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode more children: %w", err)
	}
	if len(resp.JSON.Errors) > 0 {
		return nil, fmt.Errorf("more children: api errors %v", resp.JSON.Errors)
	}
	return decodeForest(resp.JSON.Data.Things, linkID)
}

func decodeAbout(body []byte) (*About, error) {
	var env thing
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode about: %w", err)
	}
	about := &About{}
	if env.Kind != kindAbout {
		return about, nil
	}
	var data aboutData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode about data: %w", err)
	}
	about.Name = data.DisplayName
	about.SubredditType = data.SubredditType
	about.Over18 = data.Over18
	return about, nil
}

// decodeForest turns things into nodes. Inline replies are attached to
// their comment through a FIFO worklist so arbitrarily deep trees never
// grow the call stack. Unknown kinds are skipped.
func decodeForest(things []thing, linkID string) ([]models.Node, error) {
	type job struct {
		things []thing
		parent *models.Comment
	}

	var top []models.Node
	queue := []job{{things: things}}
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]

		for _, t := range j.things {
			node, replies, err := decodeNode(t, linkID)
			if err != nil {
				return nil, err
			}
			if node == nil {
				continue
			}
			if j.parent == nil {
				top = append(top, node)
			} else {
				j.parent.AppendChild(node)
			}
			if c, ok := node.(*models.Comment); ok && len(replies) > 0 {
				queue = append(queue, job{things: replies, parent: c})
			}
		}
	}
	return top, nil
}

func decodeNode(t thing, linkID string) (models.Node, []thing, error) {
	switch t.Kind {
	case kindComment:
		var d commentData
		if err := json.Unmarshal(t.Data, &d); err != nil {
			return nil, nil, fmt.Errorf("decode comment: %w", err)
		}
		replies, err := decodeReplies(d.Replies)
		if err != nil {
			return nil, nil, fmt.Errorf("decode replies of %s: %w", d.Name, err)
		}
		c := &models.Comment{
			ID:        d.ID,
			Name:      d.Name,
			ParentID:  d.ParentID,
			LinkID:    d.LinkID,
			Author:    d.Author,
			Body:      d.Body,
			CreatedAt: epoch(d.CreatedUTC),
			Score:     models.Score{Score: d.Score, Ups: d.Ups, Downs: d.Downs},
			Depth:     d.Depth,
		}
		if c.Name == "" {
			c.Name = models.CommentFullname(d.ID)
		}
		if c.LinkID == "" {
			c.LinkID = linkID
		}
		return c, replies, nil

	case kindMore:
		var d moreData
		if err := json.Unmarshal(t.Data, &d); err != nil {
			return nil, nil, fmt.Errorf("decode placeholder: %w", err)
		}
		return &models.Placeholder{
			ID:       d.ID,
			Name:     d.Name,
			ParentID: d.ParentID,
			RootID:   linkID,
			ChildIDs: d.Children,
			Count:    d.Count,
		}, nil, nil

	default:
		return nil, nil, nil
	}
}

// decodeReplies accepts the two shapes of the replies field: an empty
// string when there are none, or a Listing.
func decodeReplies(raw json.RawMessage) ([]thing, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var env thing
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Kind != kindListing {
		return nil, nil
	}
	var data listingData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, err
	}
	return data.Children, nil
}

func decodeRoot(raw json.RawMessage) (*models.Root, error) {
	var d postData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	r := &models.Root{
		ID:          d.ID,
		Name:        d.Name,
		Subreddit:   d.Subreddit,
		Author:      d.Author,
		Title:       d.Title,
		Body:        d.Selftext,
		URL:         d.URL,
		Permalink:   d.Permalink,
		CreatedAt:   epoch(d.CreatedUTC),
		NumComments: d.NumComments,
		Score: models.Score{
			Score:       d.Score,
			Ups:         d.Ups,
			Downs:       d.Downs,
			UpvoteRatio: d.UpvoteRatio,
		},
	}
	if r.Name == "" {
		r.Name = models.RootFullname(d.ID)
	}
	return r, nil
}

func epoch(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
