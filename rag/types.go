package rag

import "time"

// Segment is one time-stamped fragment produced by transcription.
type Segment struct {
	RecordingNumber string  `json:"number"`
	Title           string  `json:"title"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Text            string  `json:"text"`
}

// Passage is a run of consecutive segments from one recording.
type Passage struct {
	RecordingNumber string  `json:"number"`
	Title           string  `json:"title"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Text            string  `json:"text"`
}

// IndexedPassage is a passage with its id and embedding.
type IndexedPassage struct {
	Passage
	ChunkID   int       `json:"chunk_id"`
	Embedding []float64 `json:"embedding"`
}

// Table is the persisted embedding table, rows in build order.
type Table struct {
	BuildID   string           `json:"build_id"`
	BuiltAt   time.Time        `json:"built_at"`
	Model     string           `json:"model,omitempty"`
	Dimension int              `json:"dimension"`
	Rows      []IndexedPassage `json:"rows"`
}

// Len returns the number of rows, 0 for a nil table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Simple query result
type SearchResult struct {
	Passage IndexedPassage `json:"passage"`
	Score   float64        `json:"score"`
}
