package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"course-rag/config"
	"course-rag/logger"
	"course-rag/provider"
	"course-rag/rag"
	"course-rag/transcript"
)

// App wires the pipeline stages to their providers.
type App struct {
	cfg       config.Config
	log       *logger.Logger
	embedder  rag.Embedder
	generator provider.Generator
	prompts   rag.PromptBuilder
}

func NewApp(cfg config.Config, log *logger.Logger) *App {
	app := &App{
		cfg:     cfg,
		log:     log,
		prompts: rag.PromptBuilder{Course: cfg.Course},
	}
	switch cfg.Provider.Kind {
	case "simple":
		app.embedder = rag.NewSimpleEmbedder()
		app.generator = provider.Unavailable{}
	default:
		client := provider.New(cfg.Provider, log)
		app.embedder = client
		app.generator = client
	}
	return app
}

// Answer is everything produced for one question.
type Answer struct {
	Question string             `json:"question"`
	Prompt   string             `json:"prompt"`
	Answer   string             `json:"answer,omitempty"`
	Results  []rag.SearchResult `json:"results"`
}

// Merge writes each transcript in TranscriptDir, merged, to MergedDir.
func (a *App) Merge(ctx context.Context) (int, error) {
	docs, err := transcript.LoadDir(a.cfg.TranscriptDir)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		merged, err := doc.Merge(a.cfg.GroupSize)
		if err != nil {
			return 0, fmt.Errorf("merge %s: %w", doc.Path, err)
		}
		out := filepath.Join(a.cfg.MergedDir, filepath.Base(doc.Path))
		if err := transcript.Save(out, merged); err != nil {
			return 0, err
		}
		a.log.Info("merged transcript", "file", out, "segments", len(doc.Chunks), "passages", len(merged.Chunks))
	}
	return len(docs), nil
}

// Ingest merges every transcript, embeds the passages and replaces the table
// on disk. With skipFailed, a recording the provider cannot embed is logged
// and left out instead of failing the build.
func (a *App) Ingest(ctx context.Context, skipFailed bool) (*rag.Table, error) {
	docs, err := transcript.LoadDir(a.cfg.TranscriptDir)
	if err != nil {
		return nil, err
	}

	recordings := make([][]rag.Passage, 0, len(docs))
	for _, doc := range docs {
		passages, err := rag.MergeSegments(doc.Chunks, a.cfg.GroupSize)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", doc.Path, err)
		}
		recordings = append(recordings, passages)
	}

	ix := &rag.Indexer{Embedder: a.embedder, Model: a.embedModel(), Workers: a.cfg.Workers}

	var table *rag.Table
	if skipFailed {
		table, err = a.buildSkippingFailures(ctx, ix, docs, recordings)
	} else {
		table, err = ix.Build(ctx, recordings)
	}
	if err != nil {
		return nil, err
	}

	if err := rag.SaveTable(a.cfg.TablePath, table); err != nil {
		return nil, err
	}
	a.log.Info("saved embeddings table",
		"path", a.cfg.TablePath, "rows", table.Len(), "recordings", len(recordings),
		"dimension", table.Dimension, "build_id", table.BuildID)
	return table, nil
}

func (a *App) buildSkippingFailures(ctx context.Context, ix *rag.Indexer, docs []*transcript.Document, recordings [][]rag.Passage) (*rag.Table, error) {
	var rows []rag.IndexedPassage
	next := 0
	for i, passages := range recordings {
		a.log.Info("creating embeddings", "file", docs[i].Path, "passages", len(passages))
		recRows, n, err := ix.IndexRecording(ctx, passages, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.log.Error("skipping recording", "file", docs[i].Path, "error", err)
			continue
		}
		rows = append(rows, recRows...)
		next = n
	}
	return rag.NewTable(ix.Model, rows)
}

// LoadTable reads the table from disk. A table that was never built loads
// as an empty one.
func (a *App) LoadTable() (*rag.Table, error) {
	table, err := rag.LoadTable(a.cfg.TablePath)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Warn("embeddings table not found, starting empty", "path", a.cfg.TablePath)
		return &rag.Table{Rows: []rag.IndexedPassage{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if table.Model != "" && table.Model != a.embedModel() {
		a.log.Warn("table was built with a different embedding model",
			"table_model", table.Model, "query_model", a.embedModel())
	}
	return table, nil
}

// Retrieve embeds the question and ranks the store against it.
func (a *App) Retrieve(ctx context.Context, store *rag.InMemoryStore, question string, k int) ([]rag.SearchResult, error) {
	if k == 0 {
		k = a.cfg.TopK
	}
	if k < 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}
	if store.Len() == 0 {
		return []rag.SearchResult{}, nil
	}

	vectors, err := a.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, &rag.ProviderError{Err: err}
	}
	if len(vectors) != 1 {
		return nil, &rag.ProviderError{Err: fmt.Errorf("provider returned %d vectors for 1 text", len(vectors))}
	}
	return store.Search(vectors[0], k)
}

// Ask retrieves, renders the prompt and, when generate is set, asks the model.
func (a *App) Ask(ctx context.Context, store *rag.InMemoryStore, question string, k int, generate bool) (*Answer, error) {
	results, err := a.Retrieve(ctx, store, question, k)
	if err != nil {
		return nil, err
	}
	ans := &Answer{
		Question: question,
		Prompt:   a.prompts.Render(question, results),
		Results:  results,
	}
	if !generate {
		return ans, nil
	}
	text, err := a.generator.Generate(ctx, ans.Prompt)
	if err != nil {
		return ans, fmt.Errorf("generate answer: %w", err)
	}
	ans.Answer = text
	return ans, nil
}

func (a *App) embedModel() string {
	if a.cfg.Provider.Kind == "simple" {
		return "simple"
	}
	return a.cfg.Provider.EmbedModel
}
