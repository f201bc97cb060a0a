package enrich

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// MaxChunkLen is the longest text, in characters, sent to a sentiment
// provider in one call.
const MaxChunkLen = 512

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// Chunk splits text into pieces of at most MaxChunkLen characters. Texts
// shorter than the limit are returned whole. Longer texts are split into
// paragraphs, paragraphs that are still too long into sentences packed
// together up to the limit, sentences that are too long into words, and
// single words over the limit into equal slices.
func Chunk(text string) []string {
	if runeLen(text) < MaxChunkLen {
		return []string{text}
	}
	var chunks []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if runeLen(p) < MaxChunkLen {
			chunks = append(chunks, p)
			continue
		}
		chunks = append(chunks, packSentences(sentences(strings.TrimSpace(p)))...)
	}
	return chunks
}

func sentences(p string) []string {
	var out []string
	state := -1
	for len(p) > 0 {
		var s string
		s, p, state = uniseg.FirstSentenceInString(p, state)
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func packSentences(sentences []string) []string {
	var p packer
	for _, s := range sentences {
		if runeLen(s) > MaxChunkLen {
			p.flush()
			p.chunks = append(p.chunks, packWords(strings.Fields(s))...)
			continue
		}
		p.add(s)
	}
	p.flush()
	return p.chunks
}

func packWords(words []string) []string {
	var p packer
	for _, w := range words {
		if runeLen(w) > MaxChunkLen {
			p.flush()
			p.chunks = append(p.chunks, splitEven(w)...)
			continue
		}
		p.add(w)
	}
	p.flush()
	return p.chunks
}

// packer joins pieces with spaces while the result fits.
type packer struct {
	chunks  []string
	current strings.Builder
	n       int
}

func (p *packer) add(piece string) {
	l := runeLen(piece)
	if p.n > 0 && p.n+1+l > MaxChunkLen {
		p.flush()
	}
	if p.n > 0 {
		p.current.WriteByte(' ')
		p.n++
	}
	p.current.WriteString(piece)
	p.n += l
}

func (p *packer) flush() {
	if p.n > 0 {
		p.chunks = append(p.chunks, p.current.String())
	}
	p.current.Reset()
	p.n = 0
}

// splitEven cuts s into the fewest equal slices that fit the limit.
func splitEven(s string) []string {
	r := []rune(s)
	parts := (len(r) + MaxChunkLen - 1) / MaxChunkLen
	size := (len(r) + parts - 1) / parts
	out := make([]string, 0, parts)
	for i := 0; i < len(r); i += size {
		end := min(i+size, len(r))
		out = append(out, string(r[i:end]))
	}
	return out
}

// labelOrder breaks ties in favour of the later label.
var labelOrder = []string{LabelNegative, LabelNeutral, LabelPositive}

// aggregateSentiment combines per-chunk results. Each chunk adds its
// score, weighted by its share of the total length, to its own label; the
// label with the highest sum wins.
func aggregateSentiment(chunks []string, results []Sentiment) Sentiment {
	if len(results) == 1 {
		return results[0]
	}
	total := 0
	for _, c := range chunks {
		total += runeLen(c)
	}
	sums := make(map[string]float64, len(labelOrder))
	for i, s := range results {
		w := 1 / float64(len(results))
		if total > 0 {
			w = float64(runeLen(chunks[i])) / float64(total)
		}
		sums[s.Label] += s.Score * w
	}
	best := Sentiment{}
	for _, label := range labelOrder {
		if sums[label] >= best.Score {
			best = Sentiment{Label: label, Score: sums[label]}
		}
	}
	return best
}
