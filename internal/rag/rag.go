// Package rag implements the retrieval-augmented answer pipeline: document
// ingest into the vector index, similarity retrieval, prompt composition,
// and the per-request chat orchestration.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/leanworks/sigmachat/internal/store"
	"github.com/leanworks/sigmachat/models"
)

// ErrServiceUnavailable marks a completion failure that survived bounded
// retries. Callers should surface it as a transient condition.
var ErrServiceUnavailable = errors.New("completion service unavailable")

// ErrInvalidInput rejects empty or oversized queries before any external call.
var ErrInvalidInput = errors.New("invalid query")

// MaxQueryLength bounds accepted query size in characters.
const MaxQueryLength = 4000

// Embedder produces embedding vectors for texts.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer runs chat completions.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChunkSearcher performs nearest-neighbor search over document chunks.
type ChunkSearcher interface {
	SearchDocumentChunks(ctx context.Context, vector []float32, topK int) ([]store.ChunkSearchResult, error)
}

// ChunkStore persists ingested chunks.
type ChunkStore interface {
	GetDocumentHash(ctx context.Context, sourcePath string) (string, bool, error)
	CountDocumentChunks(ctx context.Context, sourcePath string) (int, error)
	ReplaceDocumentChunks(ctx context.Context, sourcePath, contentHash string, chunks []models.DocumentChunk) error
}

// ExchangeStore persists completed chat exchanges.
type ExchangeStore interface {
	InsertChatExchange(ctx context.Context, ex models.ChatExchange) (string, error)
}

// queryHash returns a short digest for logging queries without their text.
func queryHash(q string) string {
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:6])
}
