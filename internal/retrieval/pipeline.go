// Package retrieval ranks a requester's visible documents against a query,
// preferring semantic similarity and degrading to keyword search when the
// embedding provider is unavailable.
package retrieval

import (
	"context"
	"fmt"

	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/similarity"
)

// Store is the slice of the document store the pipeline reads from.
type Store interface {
	ListVisible(ctx context.Context, requesterID string, limit, offset int) ([]*document.Document, error)
	SearchKeyword(ctx context.Context, requesterID, query string, limit int) ([]*document.Document, error)
}

// Embedder turns text into a vector. Satisfied by embedding.Cache.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is one ranked retrieval result. Score is 0 for keyword matches.
type Match struct {
	Document *document.Document `json:"document"`
	Score    float64            `json:"score"`
}

// Pipeline performs two-stage retrieval: embed the query, rank the visible
// candidate pool by cosine similarity, and fall back to the store's keyword
// search when embedding fails.
type Pipeline struct {
	store    Store
	embedder Embedder
	logger   log.Logger
}

func New(store Store, embedder Embedder, logger log.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "retrieval"),
	}
}

// FindRelevant returns up to limit visible documents ranked by similarity to
// query. Candidates scoring below minSimilarity are excluded. A failing
// embedding provider degrades the call to keyword search rather than failing
// it; storage errors are still returned.
func (p *Pipeline) FindRelevant(ctx context.Context, query, requesterID string, limit int, minSimilarity float64) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		p.logger.Warn("semantic retrieval unavailable, falling back to keyword search",
			"requester_id", requesterID, "error", err)
		return p.keywordMatches(ctx, query, requesterID, limit)
	}

	// The candidate pool is the most recently updated visible documents,
	// twice the requested size so the threshold has room to filter.
	candidates, err := p.store.ListVisible(ctx, requesterID, 2*limit, 0)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(candidates))
	for i, doc := range candidates {
		vectors[i] = doc.Embedding
	}

	ranked := similarity.Rank(queryVec, vectors, minSimilarity, limit)
	matches := make([]Match, len(ranked))
	for i, r := range ranked {
		matches[i] = Match{Document: candidates[r.Index], Score: r.Score}
	}
	return matches, nil
}

// GroundingDocuments returns up to limit documents for conversational
// grounding using the store's keyword relevance ranking.
func (p *Pipeline) GroundingDocuments(ctx context.Context, query, requesterID string, limit int) ([]*document.Document, error) {
	docs, err := p.store.SearchKeyword(ctx, requesterID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword grounding: %w", err)
	}
	return docs, nil
}

// RecentDocuments returns the requester's most recently updated visible
// documents. Backs the suggested-questions feature.
func (p *Pipeline) RecentDocuments(ctx context.Context, requesterID string, limit int) ([]*document.Document, error) {
	docs, err := p.store.ListVisible(ctx, requesterID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("listing recent documents: %w", err)
	}
	return docs, nil
}

func (p *Pipeline) keywordMatches(ctx context.Context, query, requesterID string, limit int) ([]Match, error) {
	docs, err := p.store.SearchKeyword(ctx, requesterID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	matches := make([]Match, len(docs))
	for i, doc := range docs {
		matches[i] = Match{Document: doc}
	}
	return matches, nil
}
