package search

import (
	"sort"

	"github.com/localfile/engine/internal/store"
)

// Fuser combines a text-mode result list and a semantic-mode result list
// into one ranked list of (record id, score). Engine.search uses the
// configured Fuser for hybrid mode (spec.md §4.8(c)).
type Fuser interface {
	Fuse(text []store.ScoredID, vec []*store.VectorResult, w Weights) []store.ScoredID
}

// WeightedSumFusion implements spec.md §4.8(c)'s default hybrid algorithm:
// final = w_sem·sem_norm + w_text·text_norm, where each list's scores are
// normalized by its own top score before combining. A record present in
// only one list contributes 0 for the missing term.
type WeightedSumFusion struct{}

// Fuse combines text and vector score lists by weighted sum.
func (WeightedSumFusion) Fuse(text []store.ScoredID, vec []*store.VectorResult, w Weights) []store.ScoredID {
	textNorm := normalizeText(text)
	vecNorm := normalizeVec(vec)

	combined := make(map[string]float64, len(textNorm)+len(vecNorm))
	for id, s := range textNorm {
		combined[id] += w.Text * s
	}
	for id, s := range vecNorm {
		combined[id] += w.Semantic * s
	}

	out := make([]store.ScoredID, 0, len(combined))
	for id, score := range combined {
		out = append(out, store.ScoredID{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalizeText(results []store.ScoredID) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}
	top := results[0].Score
	for _, r := range results {
		if r.Score > top {
			top = r.Score
		}
	}
	if top <= 0 {
		top = 1
	}
	for _, r := range results {
		out[r.ID] = r.Score / top
	}
	return out
}

func normalizeVec(results []*store.VectorResult) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}
	top := float64(results[0].Score)
	for _, r := range results {
		if float64(r.Score) > top {
			top = float64(r.Score)
		}
	}
	if top <= 0 {
		top = 1
	}
	for _, r := range results {
		out[r.ID] = float64(r.Score) / top
	}
	return out
}

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60, the
// value used by Azure AI Search and OpenSearch).
const DefaultRRFConstant = 60

// RRFFusion is an alternate Fuser using Reciprocal Rank Fusion instead of
// weighted sum, kept as an EngineOption-selectable fallback for callers who
// find rank-based fusion more stable than score-based fusion on their data.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns an RRFFusion with the default smoothing constant.
func NewRRFFusion() *RRFFusion { return &RRFFusion{K: DefaultRRFConstant} }

// Fuse combines text and vector score lists by reciprocal rank.
func (f *RRFFusion) Fuse(text []store.ScoredID, vec []*store.VectorResult, w Weights) []store.ScoredID {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]float64, len(text)+len(vec))
	for rank, r := range text {
		scores[r.ID] += w.Text / float64(k+rank+1)
	}
	for rank, r := range vec {
		scores[r.ID] += w.Semantic / float64(k+rank+1)
	}

	out := make([]store.ScoredID, 0, len(scores))
	for id, s := range scores {
		out = append(out, store.ScoredID{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var (
	_ Fuser = WeightedSumFusion{}
	_ Fuser = (*RRFFusion)(nil)
)
