package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Indexer builds embedding tables. Each recording's passages go to the
// embedder as one batch.
type Indexer struct {
	Embedder Embedder
	// Model is recorded in the table for reference; it is not checked.
	Model string
	// Workers > 1 embeds that many recordings concurrently.
	Workers int
}

// Build embeds every recording and assembles one table. Chunk ids start at 0
// and follow recording order, then passage order, whatever Workers is.
func (ix *Indexer) Build(ctx context.Context, recordings [][]Passage) (*Table, error) {
	vectors := make([][][]float64, len(recordings))

	if ix.Workers > 1 {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(ix.Workers)
		for i := range recordings {
			i := i
			eg.Go(func() error {
				v, err := ix.embedRecording(egCtx, recordings[i])
				if err != nil {
					return err
				}
				vectors[i] = v
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range recordings {
			v, err := ix.embedRecording(ctx, recordings[i])
			if err != nil {
				return nil, err
			}
			vectors[i] = v
		}
	}

	rows := make([]IndexedPassage, 0)
	next := 0
	for i, passages := range recordings {
		var recRows []IndexedPassage
		recRows, next = attach(passages, vectors[i], next)
		rows = append(rows, recRows...)
	}
	return NewTable(ix.Model, rows)
}

// NewTable stamps rows with a fresh build id and time. Rows must share one
// vector dimension; only the provider produces vectors, so a disagreement is
// reported as a provider error.
func NewTable(model string, rows []IndexedPassage) (*Table, error) {
	if rows == nil {
		rows = []IndexedPassage{}
	}
	table := &Table{
		BuildID: uuid.NewString(),
		BuiltAt: time.Now().UTC(),
		Model:   model,
		Rows:    rows,
	}
	for _, row := range rows {
		if table.Dimension == 0 {
			table.Dimension = len(row.Embedding)
			continue
		}
		if len(row.Embedding) != table.Dimension {
			return nil, &ProviderError{
				Recording: row.RecordingNumber,
				Err: fmt.Errorf("%w: got %d-dimensional vector, table has %d",
					ErrDimensionMismatch, len(row.Embedding), table.Dimension),
			}
		}
	}
	return table, nil
}

// IndexRecording embeds one recording's passages and numbers them from nextID.
// It returns the rows and the id to hand to the next recording.
func (ix *Indexer) IndexRecording(ctx context.Context, passages []Passage, nextID int) ([]IndexedPassage, int, error) {
	vectors, err := ix.embedRecording(ctx, passages)
	if err != nil {
		return nil, nextID, err
	}
	rows, next := attach(passages, vectors, nextID)
	return rows, next, nil
}

func (ix *Indexer) embedRecording(ctx context.Context, passages []Passage) ([][]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if ix.Embedder == nil {
		return nil, fmt.Errorf("%w: indexer has no embedder", ErrInvalidArgument)
	}
	recording := passages[0].RecordingNumber

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	vectors, err := ix.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, &ProviderError{Recording: recording, Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Recording: recording,
			Err:       fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts)),
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, &ProviderError{Recording: recording, Err: fmt.Errorf("empty vector at position %d", i)}
		}
		if len(v) != len(vectors[0]) {
			return nil, &ProviderError{
				Recording: recording,
				Err: fmt.Errorf("%w: vector %d has %d dimensions, vector 0 has %d",
					ErrDimensionMismatch, i, len(v), len(vectors[0])),
			}
		}
	}
	return vectors, nil
}

func attach(passages []Passage, vectors [][]float64, nextID int) ([]IndexedPassage, int) {
	rows := make([]IndexedPassage, len(passages))
	for i, p := range passages {
		rows[i] = IndexedPassage{
			Passage:   p,
			ChunkID:   nextID,
			Embedding: vectors[i],
		}
		nextID++
	}
	return rows, nextID
}

// GroupByRecording splits a flat passage list into runs of equal recording
// number, keeping order. Non-adjacent runs of the same recording stay separate.
func GroupByRecording(passages []Passage) [][]Passage {
	var groups [][]Passage
	for lo := 0; lo < len(passages); {
		hi := lo + 1
		for hi < len(passages) && passages[hi].RecordingNumber == passages[lo].RecordingNumber {
			hi++
		}
		groups = append(groups, passages[lo:hi])
		lo = hi
	}
	return groups
}
