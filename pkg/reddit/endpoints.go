package reddit

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	// BaseURL is the OAuth API host.
	BaseURL = "https://oauth.reddit.com"

	// DefaultPageSize is the listing page size and also its maximum.
	DefaultPageSize = 100

	// DefaultTreeDepth and DefaultTreeLimit bound the first tree fetch of a
	// root. Deeper or wider structure arrives as placeholders.
	DefaultTreeDepth = 10
	DefaultTreeLimit = 500
)

// Sorts accepted by the listing endpoint.
var Sorts = []string{"new", "hot", "top", "rising"}

var subredditPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]{1,20}$`)

// ListingURL builds the URL of one listing page. An empty after requests
// the first page.
func ListingURL(base, subreddit, sort, after string, limit int) string {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	if sort == "" {
		sort = "new"
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("raw_json", "1")
	if after != "" {
		params.Set("after", after)
	}

	return fmt.Sprintf("%s/r/%s/%s?%s", base, subreddit, sort, params.Encode())
}

// TreeURL builds the URL of a root's comment tree. rootID may be bare or a
// t3_ fullname.
func TreeURL(base, rootID string, depth, limit int) string {
	if depth <= 0 {
		depth = DefaultTreeDepth
	}
	if limit <= 0 {
		limit = DefaultTreeLimit
	}

	params := url.Values{}
	params.Set("depth", strconv.Itoa(depth))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("raw_json", "1")

	return fmt.Sprintf("%s/comments/%s?%s", base, strings.TrimPrefix(rootID, "t3_"), params.Encode())
}

// MoreChildrenURL builds the follow-up URL resolving the given child ids
// of the root identified by linkID.
func MoreChildrenURL(base, linkID string, ids []string) string {
	params := url.Values{}
	params.Set("api_type", "json")
	params.Set("raw_json", "1")
	params.Set("link_id", linkID)
	params.Set("children", strings.Join(ids, ","))

	return fmt.Sprintf("%s/api/morechildren?%s", base, params.Encode())
}

// AboutURL builds the URL of a subreddit's about document.
func AboutURL(base, subreddit string) string {
	return fmt.Sprintf("%s/r/%s/about", base, subreddit)
}

// IsValidSubreddit checks a subreddit name against the naming rules of
// the site: 2 to 21 letters, digits or underscores, not starting with an
// underscore.
func IsValidSubreddit(name string) bool {
	return subredditPattern.MatchString(name)
}

// IsValidSort reports whether sort is a listing sort.
func IsValidSort(sort string) bool {
	for _, s := range Sorts {
		if s == sort {
			return true
		}
	}
	return false
}

// SanitizeSubreddit strips the r/ prefix, slashes and spaces users tend to
// paste along with the name.
func SanitizeSubreddit(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, "/")
	if len(name) > 2 && strings.EqualFold(name[:2], "r/") {
		name = name[2:]
	}
	return strings.Trim(name, "/ ")
}
