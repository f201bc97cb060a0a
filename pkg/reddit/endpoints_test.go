package reddit

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingURL(t *testing.T) {
	tests := []struct {
		name     string
		sort     string
		after    string
		limit    int
		expected string
	}{
		{
			name:     "first page",
			sort:     "new",
			limit:    100,
			expected: BaseURL + "/r/golang/new?limit=100&raw_json=1",
		},
		{
			name:     "with cursor",
			sort:     "top",
			after:    "t3_abc",
			limit:    25,
			expected: BaseURL + "/r/golang/top?after=t3_abc&limit=25&raw_json=1",
		},
		{
			name:     "limit clamped and sort defaulted",
			limit:    500,
			expected: BaseURL + "/r/golang/new?limit=100&raw_json=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ListingURL(BaseURL, "golang", tt.sort, tt.after, tt.limit))
		})
	}
}

func TestTreeURL(t *testing.T) {
	assert.Equal(t, BaseURL+"/comments/abc?depth=10&limit=500&raw_json=1", TreeURL(BaseURL, "t3_abc", 0, 0))
	assert.Equal(t, BaseURL+"/comments/abc?depth=3&limit=20&raw_json=1", TreeURL(BaseURL, "abc", 3, 20))
}

func TestMoreChildrenURL(t *testing.T) {
	raw := MoreChildrenURL(BaseURL, "t3_abc", []string{"c1", "c2", "c3"})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/api/morechildren", u.Path)
	q := u.Query()
	assert.Equal(t, "json", q.Get("api_type"))
	assert.Equal(t, "1", q.Get("raw_json"))
	assert.Equal(t, "t3_abc", q.Get("link_id"))
	assert.Equal(t, "c1,c2,c3", q.Get("children"))
}

func TestAboutURL(t *testing.T) {
	assert.Equal(t, BaseURL+"/r/golang/about", AboutURL(BaseURL, "golang"))
}

func TestIsValidSubreddit(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"golang", true},
		{"AskReddit", true},
		{"a_b_c", true},
		{"r2", true},
		{"", false},
		{"a", false},
		{"_leading", false},
		{"has space", false},
		{"has-dash", false},
		{"waytoolongsubredditname1", false},
		{"../etc", false},
	}

	for _, tt := range tests {
		if got := IsValidSubreddit(tt.name); got != tt.valid {
			t.Errorf("IsValidSubreddit(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestIsValidSort(t *testing.T) {
	for _, s := range Sorts {
		assert.True(t, IsValidSort(s), s)
	}
	assert.False(t, IsValidSort("controversial"))
	assert.False(t, IsValidSort(""))
}

func TestSanitizeSubreddit(t *testing.T) {
	tests := map[string]string{
		"golang":     "golang",
		"r/golang":   "golang",
		"/r/golang/": "golang",
		" R/golang ": "golang",
		"":           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeSubreddit(in), in)
	}
}
