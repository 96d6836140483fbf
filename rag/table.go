package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveTable writes the table to path. The file is written next to the target
// and renamed into place, so readers see either the old table or the new one.
func SaveTable(path string, table *Table) error {
	if table == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidArgument)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := json.NewEncoder(tmp).Encode(table); err != nil {
		tmp.Close()
		return fmt.Errorf("encode table: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("swap table into place: %w", err)
	}
	return nil
}

// LoadTable reads a table written by SaveTable. A missing file is reported
// with an error matching fs.ErrNotExist.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	var table Table
	if err := json.NewDecoder(f).Decode(&table); err != nil {
		return nil, fmt.Errorf("%w: decode table %s: %v", ErrMalformedInput, path, err)
	}
	if table.Rows == nil {
		table.Rows = []IndexedPassage{}
	}
	for _, row := range table.Rows {
		if len(row.Embedding) != table.Dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, table declares %d",
				ErrMalformedInput, row.ChunkID, len(row.Embedding), table.Dimension)
		}
	}
	return &table, nil
}
