package metadata

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"threadcrawl/pkg/models"
)

const (
	deletedMarker = "[deleted]"
	removedMarker = "[removed]"
	autoModerator = "AutoModerator"
)

var botPattern = regexp.MustCompile(`(?i)bot$`)

// Flags classifies the text and author of a node.
type Flags struct {
	EmptyText     bool `json:"empty_text,omitempty"`
	DeletedText   bool `json:"deleted_text,omitempty"`
	RemovedText   bool `json:"removed_text,omitempty"`
	DeletedAuthor bool `json:"deleted_author,omitempty"`
	AutoModAuthor bool `json:"automod_author,omitempty"`
	LikelyBot     bool `json:"likely_bot,omitempty"`
}

// ValidText reports whether the text carries content worth analysing.
func (f Flags) ValidText() bool {
	return !f.EmptyText && !f.DeletedText && !f.RemovedText
}

// Classify flags a text and its author.
func Classify(text, author string) Flags {
	text = strings.TrimSpace(text)
	author = strings.TrimSpace(author)
	return Flags{
		EmptyText:     text == "",
		DeletedText:   text == deletedMarker,
		RemovedText:   text == removedMarker,
		DeletedAuthor: author == deletedMarker,
		AutoModAuthor: author == autoModerator,
		LikelyBot:     author == autoModerator || botPattern.MatchString(author),
	}
}

// IsValidText reports whether text is neither empty, deleted nor removed.
func IsValidText(text string) bool {
	return Classify(text, "").ValidText()
}

// Text returns the analysable text of a node: the body of a comment, the
// title and body of a root. Placeholders have none.
func Text(n models.Node) string {
	switch v := n.(type) {
	case *models.Comment:
		return v.Body
	case *models.Root:
		var parts []string
		for _, s := range []string{v.Title, v.Body} {
			if IsValidText(s) {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, "\n\n")
	default:
		return ""
	}
}

// UserStats aggregates the activity of one author.
type UserStats struct {
	Author     string `json:"author"`
	Posts      int    `json:"posts"`
	Comments   int    `json:"comments"`
	TotalScore int    `json:"total_score"`
	Upvotes    int    `json:"upvotes"`
	LikelyBot  bool   `json:"likely_bot,omitempty"`
	// RepliesReceived counts direct replies to the author's posts and
	// comments.
	RepliesReceived int `json:"replies_received"`
}

// WordStats aggregates one word over all valid texts.
type WordStats struct {
	Word        string `json:"word"`
	Frequency   int    `json:"frequency"`
	UniqueTexts int    `json:"unique_texts"`
	Users       int    `json:"users"`
}

// Report holds the per-user and per-word aggregates of an index.
type Report struct {
	Posts    int                   `json:"posts"`
	Comments int                   `json:"comments"`
	Users    map[string]*UserStats `json:"users"`
	Words    map[string]*WordStats `json:"words"`

	wordUsers map[string]map[string]bool
}

// Build computes the report of ix. Deleted authors are not counted as
// users; deleted, removed and empty texts contribute no words.
func Build(ix *models.NodeIndex) *Report {
	r := &Report{
		Users:     make(map[string]*UserStats),
		Words:     make(map[string]*WordStats),
		wordUsers: make(map[string]map[string]bool),
	}

	for _, root := range ix.Roots {
		r.Posts++
		if u := r.user(root.Author); u != nil {
			u.Posts++
			u.TotalScore += root.Score.Score
			u.Upvotes += root.Score.Ups
		}
		r.addWords(Text(root), root.Author)
	}

	for _, c := range ix.Comments() {
		r.Comments++
		if u := r.user(c.Author); u != nil {
			u.Comments++
			u.TotalScore += c.Score.Score
			u.Upvotes += c.Score.Ups
		}
		if parent, ok := ix.Parent(c.ParentID); ok {
			if u := r.user(author(parent)); u != nil {
				u.RepliesReceived++
			}
		}
		if IsValidText(c.Body) {
			r.addWords(c.Body, c.Author)
		}
	}

	r.wordUsers = nil
	return r
}

func author(n models.Node) string {
	switch v := n.(type) {
	case *models.Root:
		return v.Author
	case *models.Comment:
		return v.Author
	default:
		return ""
	}
}

func (r *Report) user(name string) *UserStats {
	flags := Classify("", name)
	if name == "" || flags.DeletedAuthor {
		return nil
	}
	u, ok := r.Users[name]
	if !ok {
		u = &UserStats{Author: name, LikelyBot: flags.LikelyBot}
		r.Users[name] = u
	}
	return u
}

func (r *Report) addWords(text, author string) {
	if text == "" {
		return
	}
	for word, n := range Frequencies(text) {
		w, ok := r.Words[word]
		if !ok {
			w = &WordStats{Word: word}
			r.Words[word] = w
			r.wordUsers[word] = make(map[string]bool)
		}
		w.Frequency += n
		w.UniqueTexts++
		if author != "" && author != deletedMarker && !r.wordUsers[word][author] {
			r.wordUsers[word][author] = true
			w.Users++
		}
	}
}

// UniqueUsers returns the number of distinct authors.
func (r *Report) UniqueUsers() int { return len(r.Users) }

// UniqueWords returns the number of distinct words.
func (r *Report) UniqueWords() int { return len(r.Words) }

// TopWords returns the n most frequent words, ties broken alphabetically.
func (r *Report) TopWords(n int) []*WordStats {
	out := make([]*WordStats, 0, len(r.Words))
	for _, w := range r.Words {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Word < out[j].Word
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Frequencies tokenizes text into lower-case words and counts them. Stop
// words, numbers, URLs and single letters are skipped.
func Frequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			continue
		}
		for _, tok := range strings.FieldsFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		}) {
			tok = strings.Trim(strings.ToLower(tok), "'")
			tok = strings.TrimSuffix(tok, "'s")
			if len([]rune(tok)) < 2 || isNumber(tok) || stopWords[tok] {
				continue
			}
			freq[tok]++
		}
	}
	return freq
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var stopWords = func() map[string]bool {
	words := strings.Fields(`a about above after again against all am an and any are aren't as at
		be because been before being below between both but by can can't cannot could couldn't
		did didn't do does doesn't doing don't down during each few for from further had hadn't
		has hasn't have haven't having he he'd he'll he's her here here's hers herself him himself
		his how how's i i'd i'll i'm i've if in into is isn't it it's its itself just let's like
		me more most mustn't my myself no nor not now of off on once only or other ought our ours
		ourselves out over own same shan't she she'd she'll she's should shouldn't so some such
		than that that's the their theirs them themselves then there there's these they they'd
		they'll they're they've this those through to too under until up very was wasn't we we'd
		we'll we're we've were weren't what what's when when's where where's which while who who's
		whom why why's will with won't would wouldn't you you'd you'll you're you've your yours
		yourself yourselves also get got really im dont thats`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
