package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"course-rag/config"
	"course-rag/logger"
	"course-rag/rag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// keywordEmbedder maps texts onto [css, html, js] keyword counts.
type keywordEmbedder struct {
	err   error
	calls int
}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		out[i] = []float64{
			float64(strings.Count(t, "css")),
			float64(strings.Count(t, "html")),
			float64(strings.Count(t, "js")),
		}
	}
	return out, nil
}

type fakeGenerator struct {
	prompt string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return "Watch video 2 from 0 to 10 seconds.", nil
}

func newTestApp(t *testing.T) (*App, *keywordEmbedder, *fakeGenerator) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TranscriptDir = filepath.Join(dir, "new_jsons")
	cfg.MergedDir = filepath.Join(dir, "final_jsons")
	cfg.TablePath = filepath.Join(dir, "final_embeddings.json")
	cfg.PromptPath = filepath.Join(dir, "prompt.txt")
	cfg.ResponsePath = filepath.Join(dir, "response.txt")
	cfg.GroupSize = 2

	emb := &keywordEmbedder{}
	gen := &fakeGenerator{}
	app := &App{
		cfg:       cfg,
		log:       logger.Nop(),
		embedder:  emb,
		generator: gen,
		prompts:   rag.PromptBuilder{Course: "web course"},
	}
	return app, emb, gen
}

func writeTranscript(t *testing.T, dir, name, number, title string, texts ...string) {
	t.Helper()
	type chunk struct {
		Number string  `json:"number"`
		Title  string  `json:"title"`
		Start  float64 `json:"start"`
		End    float64 `json:"end"`
		Text   string  `json:"text"`
	}
	doc := struct {
		Chunks []chunk `json:"chunks"`
		Text   string  `json:"text"`
	}{Text: strings.Join(texts, " ")}
	for i, txt := range texts {
		doc.Chunks = append(doc.Chunks, chunk{Number: number, Title: title, Start: float64(i * 5), End: float64(i*5 + 5), Text: txt})
	}
	data, _ := json.Marshal(doc)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
}

func seedTranscripts(t *testing.T, app *App) {
	writeTranscript(t, app.cfg.TranscriptDir, "1 HTML basics.mp3.json", "1", "HTML basics",
		"html tags", "html attributes", "more html")
	writeTranscript(t, app.cfg.TranscriptDir, "2 CSS selectors.mp3.json", "2", "CSS selectors",
		"css selectors", "css specificity")
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIngest_BuildsAndSavesTable(t *testing.T) {
	app, emb, _ := newTestApp(t)
	seedTranscripts(t, app)

	table, err := app.Ingest(context.Background(), false)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// recording 1: 3 segments -> 2 passages, recording 2: 2 segments -> 1 passage
	if table.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", table.Len())
	}
	if emb.calls != 2 {
		t.Fatalf("expected one embed call per recording, got %d", emb.calls)
	}
	want := []struct {
		number, text string
		start, end   float64
	}{
		{"1", "html tags html attributes", 0, 10},
		{"1", "more html", 10, 15},
		{"2", "css selectors css specificity", 0, 10},
	}
	for i, w := range want {
		row := table.Rows[i]
		if row.ChunkID != i || row.RecordingNumber != w.number || row.Text != w.text || row.Start != w.start || row.End != w.end {
			t.Fatalf("row %d = %+v", i, row)
		}
	}

	loaded, err := rag.LoadTable(app.cfg.TablePath)
	if err != nil {
		t.Fatalf("load saved table: %v", err)
	}
	if loaded.Len() != 3 || loaded.BuildID != table.BuildID {
		t.Fatalf("saved table does not match the build")
	}
}

func TestIngest_ProviderFailureKeepsOldTable(t *testing.T) {
	app, emb, _ := newTestApp(t)
	seedTranscripts(t, app)

	if _, err := app.Ingest(context.Background(), false); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before, _ := os.ReadFile(app.cfg.TablePath)

	emb.err = errors.New("ollama is down")
	_, err := app.Ingest(context.Background(), false)
	if !errors.Is(err, rag.ErrEmbeddingProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}

	after, _ := os.ReadFile(app.cfg.TablePath)
	if !bytes.Equal(before, after) {
		t.Fatalf("failed ingest must not touch the saved table")
	}
}

func TestIngest_MissingTranscriptDirKeepsOldTable(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedTranscripts(t, app)

	if _, err := app.Ingest(context.Background(), false); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before, _ := os.ReadFile(app.cfg.TablePath)

	app.cfg.TranscriptDir = filepath.Join(t.TempDir(), "missing")
	if _, err := app.Ingest(context.Background(), false); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	after, _ := os.ReadFile(app.cfg.TablePath)
	if !bytes.Equal(before, after) {
		t.Fatalf("ingest from a missing directory must not touch the saved table")
	}
}

func TestMerge_MissingTranscriptDir(t *testing.T) {
	app, _, _ := newTestApp(t)
	app.cfg.TranscriptDir = filepath.Join(t.TempDir(), "missing")

	n, err := app.Merge(context.Background())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 documents, got %d", n)
	}
}

func TestIngest_SkipFailedRecordings(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedTranscripts(t, app)

	calls := 0
	app.embedder = rag.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float64, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return (&keywordEmbedder{}).Embed(ctx, texts)
	})

	table, err := app.Ingest(context.Background(), true)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if table.Len() != 1 || table.Rows[0].RecordingNumber != "2" || table.Rows[0].ChunkID != 0 {
		t.Fatalf("expected only recording 2 with chunk id 0, got %+v", table.Rows)
	}
}

func TestMerge_WritesMergedDocuments(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedTranscripts(t, app)

	n, err := app.Merge(context.Background())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 documents, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(app.cfg.MergedDir, "1 HTML basics.mp3.json"))
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	var doc struct {
		Chunks []rag.Segment `json:"chunks"`
		Text   string        `json:"text"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if len(doc.Chunks) != 2 || doc.Chunks[0].Text != "html tags html attributes" || doc.Text == "" {
		t.Fatalf("unexpected merged document: %+v", doc)
	}
}

func TestHealthHandler_OK(t *testing.T) {
	app, _, _ := newTestApp(t)
	h := NewServer(app, rag.NewInMemoryStore(nil)).Router()

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestQueryHandler_NoBody(t *testing.T) {
	app, _, _ := newTestApp(t)
	h := NewServer(app, rag.NewInMemoryStore(nil)).Router()

	w := doJSON(t, h, http.MethodPost, "/query", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/query", map[string]string{"query": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", w.Code)
	}
}

func TestQueryHandler_WrongMethod(t *testing.T) {
	app, _, _ := newTestApp(t)
	h := NewServer(app, rag.NewInMemoryStore(nil)).Router()

	w := doJSON(t, h, http.MethodGet, "/query", nil)
	if w.Code == http.StatusOK {
		t.Fatalf("expected GET /query to be rejected")
	}
}

func TestQueryHandler_EmptyTable(t *testing.T) {
	app, emb, _ := newTestApp(t)
	h := NewServer(app, rag.NewInMemoryStore(nil)).Router()

	w := doJSON(t, h, http.MethodPost, "/query", map[string]string{"query": "what is css?"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 0 {
		t.Fatalf("expected 0 results, got %d", resp.Count)
	}
	if emb.calls != 0 {
		t.Fatalf("expected no embed call against an empty table")
	}
}

func TestQueryHandler_ReturnsResults(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedTranscripts(t, app)
	table, err := app.Ingest(context.Background(), false)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h := NewServer(app, rag.NewInMemoryStore(table)).Router()

	w := doJSON(t, h, http.MethodPost, "/query", map[string]any{"query": "explain css", "k": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Results []rag.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Passage.RecordingNumber != "2" || resp.Results[0].Score < 0.99 {
		t.Fatalf("expected the CSS passage first, got %+v", resp.Results[0])
	}
	// zero-score tie between the two HTML passages goes to the lower chunk id
	if resp.Results[1].Passage.ChunkID != 0 {
		t.Fatalf("expected chunk 0 second, got %d", resp.Results[1].Passage.ChunkID)
	}
}

func TestQueryHandler_ErrorMapping(t *testing.T) {
	app, emb, _ := newTestApp(t)
	table := &rag.Table{Dimension: 2, Rows: []rag.IndexedPassage{{ChunkID: 0, Embedding: []float64{1, 0}}}}
	h := NewServer(app, rag.NewInMemoryStore(table)).Router()

	// keyword vectors are 3-dimensional
	w := doJSON(t, h, http.MethodPost, "/query", map[string]string{"query": "css"})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "dimension_mismatch") {
		t.Fatalf("expected 400 dimension_mismatch, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/query", map[string]any{"query": "css", "k": -1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative k, got %d", w.Code)
	}

	emb.err = errors.New("connection refused")
	w = doJSON(t, h, http.MethodPost, "/query", map[string]string{"query": "css"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on provider failure, got %d", w.Code)
	}
}

func TestAskHandler(t *testing.T) {
	app, _, gen := newTestApp(t)
	seedTranscripts(t, app)
	table, err := app.Ingest(context.Background(), false)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h := NewServer(app, rag.NewInMemoryStore(table)).Router()

	w := doJSON(t, h, http.MethodPost, "/ask", map[string]string{"query": "css selectors?"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ans Answer
	json.NewDecoder(w.Body).Decode(&ans)
	if ans.Answer == "" || len(ans.Results) != 3 {
		t.Fatalf("unexpected answer: %+v", ans)
	}
	if gen.prompt != ans.Prompt || !strings.Contains(gen.prompt, "CSS selectors") {
		t.Fatalf("generator did not receive the rendered prompt")
	}

	gen.err = errors.New("model crashed")
	w = doJSON(t, h, http.MethodPost, "/ask", map[string]string{"query": "css"})
	if w.Code != http.StatusBadGateway || !strings.Contains(w.Body.String(), "prompt") {
		t.Fatalf("expected 502 carrying the prompt, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAskHandler_EmptyTableSaysNothingFound(t *testing.T) {
	app, _, gen := newTestApp(t)
	h := NewServer(app, rag.NewInMemoryStore(nil)).Router()

	w := doJSON(t, h, http.MethodPost, "/ask", map[string]string{"query": "what is docker?"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(gen.prompt, rag.NoContextMarker) {
		t.Fatalf("expected the no-context prompt, got:\n%s", gen.prompt)
	}
}

func TestReloadHandler(t *testing.T) {
	app, _, _ := newTestApp(t)
	store := rag.NewInMemoryStore(nil)
	h := NewServer(app, store).Router()

	// nothing built yet: reload succeeds with an empty table
	w := doJSON(t, h, http.MethodPost, "/reload", nil)
	if w.Code != http.StatusOK || store.Len() != 0 {
		t.Fatalf("expected empty reload, got %d with %d rows", w.Code, store.Len())
	}

	seedTranscripts(t, app)
	if _, err := app.Ingest(context.Background(), false); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	w = doJSON(t, h, http.MethodPost, "/reload", nil)
	if w.Code != http.StatusOK || store.Len() != 3 {
		t.Fatalf("expected 3 rows after reload, got %d with %d rows", w.Code, store.Len())
	}
}

func TestRunAsk_SavesPromptAndResponse(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedTranscripts(t, app)
	if _, err := app.Ingest(context.Background(), false); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := runAsk(context.Background(), app, "where are html tags explained?"); err != nil {
		t.Fatalf("ask: %v", err)
	}

	prompt, err := os.ReadFile(app.cfg.PromptPath)
	if err != nil || !strings.Contains(string(prompt), "where are html tags explained?") {
		t.Fatalf("prompt not saved: %v", err)
	}
	resp, err := os.ReadFile(app.cfg.ResponsePath)
	if err != nil || string(resp) != "Watch video 2 from 0 to 10 seconds." {
		t.Fatalf("response not saved: %v", err)
	}
}

func TestRunAsk_EmptyQuestion(t *testing.T) {
	app, emb, _ := newTestApp(t)
	if err := runAsk(context.Background(), app, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 0 {
		t.Fatalf("expected no provider calls for an empty question")
	}
	if _, err := os.Stat(app.cfg.PromptPath); !os.IsNotExist(err) {
		t.Fatalf("expected no prompt file")
	}
}

func TestRun_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RAG_PROVIDER_KIND", "simple")
	t.Setenv("RAG_TRANSCRIPT_DIR", filepath.Join(dir, "missing"))
	t.Setenv("RAG_MERGED_DIR", filepath.Join(dir, "merged"))
	t.Setenv("RAG_TABLE_PATH", filepath.Join(dir, "table.json"))

	if code := run(nil); code != 2 {
		t.Fatalf("no command: expected exit 2, got %d", code)
	}
	if code := run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("unknown command: expected exit 2, got %d", code)
	}
	if code := run([]string{"ingest"}); code != 1 {
		t.Fatalf("ingest from a missing directory: expected exit 1, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "table.json")); !os.IsNotExist(err) {
		t.Fatalf("failed ingest must not write a table")
	}
	if code := run([]string{"merge"}); code != 1 {
		t.Fatalf("merge from a missing directory: expected exit 1, got %d", code)
	}
}
