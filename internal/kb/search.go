package kb

import (
	"sync"

	"github.com/blevesearch/bleve"
)

// SearchHit is one lexical search result over the knowledge base.
type SearchHit struct {
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

type indexedDoc struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Tags     string `json:"tags"`
	Body     string `json:"body"`
}

// SearchIndex is an in-memory BM25 index over the library's documents.
// Rebuild reloads it from disk, so edits to the knowledge base are picked
// up without restarting.
type SearchIndex struct {
	lib   *Library
	mu    sync.RWMutex
	bleve bleve.Index
	meta  map[string]DocumentInfo
	body  map[string]string
}

func NewSearchIndex(lib *Library) (*SearchIndex, error) {
	s := &SearchIndex{lib: lib}
	if err := s.Rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rebuild indexes every listed document from scratch and swaps the live
// index atomically.
func (s *SearchIndex) Rebuild() error {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	docs, err := s.lib.List()
	if err != nil {
		return err
	}
	meta := make(map[string]DocumentInfo, len(docs))
	body := make(map[string]string, len(docs))
	for _, info := range docs {
		doc, err := s.lib.Get(info.Path)
		if err != nil {
			return err
		}
		_, text := SplitFrontMatter(doc.Content)
		err = index.Index(info.Path, indexedDoc{
			Title:    info.Title,
			Category: info.Category,
			Tags:     joinTags(info.Tags),
			Body:     text,
		})
		if err != nil {
			return err
		}
		meta[info.Path] = info
		body[info.Path] = text
	}

	s.mu.Lock()
	old := s.bleve
	s.bleve, s.meta, s.body = index, meta, body
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Count reports the number of indexed documents.
func (s *SearchIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meta)
}

func (s *SearchIndex) Search(q string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := s.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []SearchHit
	for i, hit := range res.Hits {
		info := s.meta[hit.ID]
		out = append(out, SearchHit{
			Path:    hit.ID,
			Title:   info.Title,
			Snippet: snippet(s.body[hit.ID]),
			Score:   hit.Score,
			Rank:    i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}
