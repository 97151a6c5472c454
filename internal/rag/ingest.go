package rag

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/leanworks/sigmachat/internal/store"
	"github.com/leanworks/sigmachat/models"
)

// Ingestor chunks raw document text, embeds the chunks, and upserts them
// into the vector index tagged by source path.
type Ingestor struct {
	Embedder  Embedder
	Store     ChunkStore
	Chunker   Chunker
	BatchSize int
	Limiter   *rate.Limiter
	Logger    *log.Logger
}

func NewIngestor(embedder Embedder, st ChunkStore, chunker Chunker, batchSize int, embedRatePerSecond float64) *Ingestor {
	if batchSize <= 0 {
		batchSize = 64
	}
	limit := rate.Limit(embedRatePerSecond)
	if embedRatePerSecond <= 0 {
		limit = rate.Inf
	}
	return &Ingestor{
		Embedder:  embedder,
		Store:     st,
		Chunker:   chunker,
		BatchSize: batchSize,
		Limiter:   rate.NewLimiter(limit, 1),
		Logger:    log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Ingest splits raw into chunks, embeds them, and replaces all prior chunks
// for sourcePath. Re-ingesting unchanged content is a no-op and returns the
// stored chunk count.
func (g *Ingestor) Ingest(ctx context.Context, sourcePath, raw string, metadata map[string]string) (int, error) {
	if sourcePath == "" {
		return 0, fmt.Errorf("source path required")
	}
	hash := store.HashContent(raw)
	if prev, found, err := g.Store.GetDocumentHash(ctx, sourcePath); err != nil {
		return 0, fmt.Errorf("check document hash: %w", err)
	} else if found && prev == hash {
		n, err := g.Store.CountDocumentChunks(ctx, sourcePath)
		if err != nil {
			return 0, fmt.Errorf("count chunks: %w", err)
		}
		g.Logger.Printf("skip unchanged document %s (%d chunks)", sourcePath, n)
		return n, nil
	}

	texts := g.Chunker.Split(raw)
	chunks := make([]models.DocumentChunk, 0, len(texts))
	for i := 0; i < len(texts); i += g.BatchSize {
		end := i + g.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := g.Limiter.Wait(ctx); err != nil {
			return 0, err
		}
		vecs, err := g.Embedder.CreateEmbedding(ctx, texts[i:end])
		if err != nil {
			return 0, fmt.Errorf("embed chunks %d..%d of %s: %w", i, end, sourcePath, err)
		}
		for j, vec := range vecs {
			chunks = append(chunks, models.DocumentChunk{
				SourcePath: sourcePath,
				ChunkIndex: i + j,
				Text:       texts[i+j],
				Embedding:  vec,
				Metadata:   metadata,
			})
		}
	}

	if err := g.Store.ReplaceDocumentChunks(ctx, sourcePath, hash, chunks); err != nil {
		return 0, fmt.Errorf("store chunks for %s: %w", sourcePath, err)
	}
	ingestChunksTotal.Add(float64(len(chunks)))
	g.Logger.Printf("indexed document %s with %d chunks", sourcePath, len(chunks))
	return len(chunks), nil
}

// Warmup is a soft check that the embedder is reachable; used by the ingest
// command to fail fast before walking a large tree.
func (g *Ingestor) Warmup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := g.Embedder.CreateEmbedding(ctx, []string{"ping"})
	return err
}
