package aiclient

import "context"

// RerankResult is one reranked document.
type RerankResult struct {
	// Index is the original position in the input documents slice.
	Index int
	// Score is the relevance score (0.0 to 1.0).
	Score float64
	// Document is the original document content.
	Document string
}

// Reranker scores and reorders documents by relevance to a query, trading
// extra AI-backend latency for more accurate ranking than vector distance
// alone gives. It is consumed by the Searcher (C8) as an optional
// post-processing step on top of its own fused ranking.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker returns documents in their original order, used when no AI
// backend is configured or reachable.
type NoOpReranker struct{}

// Rerank returns documents in original order with decreasing scores.
func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01, Document: doc}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always returns true for NoOpReranker.
func (NoOpReranker) Available(_ context.Context) bool { return true }

// Close is a no-op for NoOpReranker.
func (NoOpReranker) Close() error { return nil }

var _ Reranker = NoOpReranker{}
