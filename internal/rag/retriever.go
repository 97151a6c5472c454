package rag

import (
	"context"
	"log"
	"time"

	"github.com/leanworks/sigmachat/models"
)

// Retriever embeds a query and searches the vector index for the closest
// document chunks. It never fails: when the index or the embedder stays
// unreachable after bounded retries, it reports degraded mode instead.
type Retriever struct {
	Embedder      Embedder
	Searcher      ChunkSearcher
	TopK          int
	SearchTimeout time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	Logger        *log.Logger
}

func NewRetriever(embedder Embedder, searcher ChunkSearcher, topK int, searchTimeout time.Duration) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	if searchTimeout <= 0 {
		searchTimeout = 5 * time.Second
	}
	return &Retriever{
		Embedder:      embedder,
		Searcher:      searcher,
		TopK:          topK,
		SearchTimeout: searchTimeout,
		MaxRetries:    3,
		RetryBackoff:  300 * time.Millisecond,
		Logger:        log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags),
	}
}

// Retrieve returns up to k passages ordered by descending similarity score,
// plus a degraded flag. degraded=true means retrieval was skipped due to
// unavailability and the caller should compose context-free.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, bool) {
	if k <= 0 {
		k = r.TopK
	}

	var lastErr error
	for attempt := 0; attempt < r.MaxRetries; attempt++ {
		passages, err := r.attempt(ctx, query, k)
		if err == nil {
			return passages, false
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < r.MaxRetries-1 {
			select {
			case <-time.After(r.RetryBackoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
			}
		}
	}
	retrievalDegradedTotal.Inc()
	r.Logger.Printf("degraded retrieval for query %s: %v", queryHash(query), lastErr)
	return nil, true
}

func (r *Retriever) attempt(ctx context.Context, query string, k int) ([]models.Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.SearchTimeout)
	defer cancel()

	vecs, err := r.Embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	results, err := r.Searcher.SearchDocumentChunks(ctx, vecs[0], k)
	if err != nil {
		return nil, err
	}
	passages := make([]models.Passage, 0, len(results))
	for _, res := range results {
		meta := res.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		meta["source"] = res.SourcePath
		passages = append(passages, models.Passage{
			Text:     res.Text,
			Score:    1 - res.Distance, // cosine distance -> similarity
			Metadata: meta,
		})
	}
	return passages, nil
}
