// Package transcript reads and writes the per-recording documents produced by
// transcription: the full text plus ordered, time-stamped chunks.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"course-rag/rag"
)

// Document is one recording's transcript.
type Document struct {
	// Path is where the document was loaded from; not serialized.
	Path   string        `json:"-"`
	Text   string        `json:"text"`
	Chunks []rag.Segment `json:"chunks"`
}

// RecordingNumber of the document's first chunk, "" when it has none.
func (d *Document) RecordingNumber() string {
	if len(d.Chunks) == 0 {
		return ""
	}
	return d.Chunks[0].RecordingNumber
}

// Merge returns a copy whose chunks are merged into passages of groupSize.
func (d *Document) Merge(groupSize int) (*Document, error) {
	passages, err := rag.MergeSegments(d.Chunks, groupSize)
	if err != nil {
		return nil, err
	}
	chunks := make([]rag.Segment, len(passages))
	for i, p := range passages {
		chunks[i] = rag.Segment(p)
	}
	return &Document{Path: d.Path, Text: d.Text, Chunks: chunks}, nil
}

type rawDocument struct {
	Text   *string     `json:"text"`
	Chunks *[]rawChunk `json:"chunks"`
}

type rawChunk struct {
	Number *number  `json:"number"`
	Title  *string  `json:"title"`
	Start  *float64 `json:"start"`
	End    *float64 `json:"end"`
	Text   *string  `json:"text"`
}

// number accepts "37" as well as 37.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = number(s)
		return nil
	}
	var f json.Number
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("recording number must be a string or a number: %w", err)
	}
	*n = number(f.String())
	return nil
}

// Decode parses one document. name is used in error messages.
func Decode(data []byte, name string) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rag.ErrMalformedInput, name, err)
	}
	if raw.Text == nil {
		return nil, fmt.Errorf("%w: %s: missing \"text\"", rag.ErrMalformedInput, name)
	}
	if raw.Chunks == nil {
		return nil, fmt.Errorf("%w: %s: missing \"chunks\"", rag.ErrMalformedInput, name)
	}

	doc := &Document{Path: name, Text: *raw.Text, Chunks: make([]rag.Segment, 0, len(*raw.Chunks))}
	for i, c := range *raw.Chunks {
		seg, err := c.segment()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: chunk %d: %v", rag.ErrMalformedInput, name, i, err)
		}
		if i > 0 && seg.Start < doc.Chunks[i-1].Start {
			return nil, fmt.Errorf("%w: %s: chunk %d starts at %v, before chunk %d at %v",
				rag.ErrMalformedInput, name, i, seg.Start, i-1, doc.Chunks[i-1].Start)
		}
		doc.Chunks = append(doc.Chunks, seg)
	}
	return doc, nil
}

func (c rawChunk) segment() (rag.Segment, error) {
	var missing []string
	if c.Number == nil {
		missing = append(missing, "number")
	}
	if c.Title == nil {
		missing = append(missing, "title")
	}
	if c.Start == nil {
		missing = append(missing, "start")
	}
	if c.End == nil {
		missing = append(missing, "end")
	}
	if c.Text == nil {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return rag.Segment{}, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if *c.End < *c.Start {
		return rag.Segment{}, fmt.Errorf("ends at %v before it starts at %v", *c.End, *c.Start)
	}
	return rag.Segment{
		RecordingNumber: string(*c.Number),
		Title:           *c.Title,
		Start:           *c.Start,
		End:             *c.End,
		Text:            *c.Text,
	}, nil
}

// Load reads one document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Decode(data, path)
}

// LoadDir loads every *.json document in dir, ordered by recording number
// (numerically when both parse) and then by file name.
func LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	docs := make([]*Document, 0, len(paths))
	for _, p := range paths {
		doc, err := Load(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	slices.SortStableFunc(docs, func(a, b *Document) int {
		if c := compareNumbers(a.RecordingNumber(), b.RecordingNumber()); c != 0 {
			return c
		}
		return strings.Compare(filepath.Base(a.Path), filepath.Base(b.Path))
	})
	return docs, nil
}

func compareNumbers(a, b string) int {
	ai, errA := strconv.ParseFloat(a, 64)
	bi, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// Save writes the document as indented JSON, creating parent directories.
func Save(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
