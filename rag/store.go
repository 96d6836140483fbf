package rag

import (
	"fmt"
	"math"
	"slices"
	"sync"
)

// InMemoryStore serves searches over the currently loaded table.
type InMemoryStore struct {
	mu    sync.RWMutex
	table *Table
}

func NewInMemoryStore(table *Table) *InMemoryStore {
	return &InMemoryStore{table: table}
}

// Replace swaps in a new table; searches already running finish on the old one.
func (s *InMemoryStore) Replace(table *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = table
}

// Table returns the current table, possibly nil.
func (s *InMemoryStore) Table() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

func (s *InMemoryStore) Len() int {
	return s.Table().Len()
}

func (s *InMemoryStore) Search(queryEmbedding []float64, topK int) ([]SearchResult, error) {
	return Search(s.Table(), queryEmbedding, topK)
}

// cosine of two equal-length vectors; 0 when either norm is 0.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Search ranks every row of table against the query by cosine similarity and
// returns the best topK, ties going to the lower chunk id.
func Search(table *Table, queryEmbedding []float64, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, topK)
	}
	if table.Len() == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(table.Rows))
	for _, row := range table.Rows {
		if len(row.Embedding) != len(queryEmbedding) {
			return nil, fmt.Errorf("%w: query has %d dimensions, chunk %d has %d",
				ErrDimensionMismatch, len(queryEmbedding), row.ChunkID, len(row.Embedding))
		}
		results = append(results, SearchResult{
			Passage: row,
			Score:   cosine(queryEmbedding, row.Embedding),
		})
	}

	slices.SortFunc(results, func(a, b SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Passage.ChunkID - b.Passage.ChunkID
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}
