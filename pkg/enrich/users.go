package enrich

import (
	"math"

	"threadcrawl/pkg/metadata"
	"threadcrawl/pkg/models"
)

// UserEmbeddings averages the text embeddings of every user in report and
// scales the mean to unit length. Users with a single embedded text are
// left out, as are embeddings whose dimension differs from the user's
// first one.
func UserEmbeddings(ix *models.NodeIndex, report *metadata.Report, anns map[string]Annotation) map[string][]float32 {
	if ix == nil || report == nil || len(anns) == 0 {
		return nil
	}

	byUser := make(map[string][][]float32)
	collect := func(author, name string) {
		if _, ok := report.Users[author]; !ok {
			return
		}
		emb := anns[name].Embedding
		if len(emb) == 0 {
			return
		}
		if prev := byUser[author]; len(prev) > 0 && len(prev[0]) != len(emb) {
			return
		}
		byUser[author] = append(byUser[author], emb)
	}
	for _, r := range ix.Roots {
		collect(r.Author, r.Name)
	}
	for _, c := range ix.Comments() {
		collect(c.Author, c.Name)
	}

	out := make(map[string][]float32)
	for user, embs := range byUser {
		if len(embs) < 2 {
			continue
		}
		if v := meanUnit(embs); v != nil {
			out[user] = v
		}
	}
	return out
}

// meanUnit returns the L2-normalized mean of vectors of equal length, or
// nil when the mean is the zero vector.
func meanUnit(vectors [][]float32) []float32 {
	sum := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	var norm float64
	for i := range sum {
		sum[i] /= float64(len(vectors))
		norm += sum[i] * sum[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i, x := range sum {
		out[i] = float32(x / norm)
	}
	return out
}
