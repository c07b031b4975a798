package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TableStore is the persistence contract used by the inventory and the
// ledger: whole-table reads and writes, one JSON document per table.
type TableStore interface {
	ReadTable(name string, v interface{}) error
	WriteTable(name string, v interface{}) error
}

// FileStore persists tables as JSON files under a data directory
type FileStore struct {
	dataDir string
}

// NewFileStore creates a file-backed table store
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

// ReadTable loads a table into v. A missing table is not an error; v is
// left at its zero value so a fresh deployment starts empty.
func (s *FileStore) ReadTable(name string, v interface{}) error {
	data, err := os.ReadFile(s.tablePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read table %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse table %s: %w", name, err)
	}
	return nil
}

// WriteTable replaces the table contents with v
func (s *FileStore) WriteTable(name string, v interface{}) error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal table %s: %w", name, err)
	}

	if err := os.WriteFile(s.tablePath(name), data, 0644); err != nil {
		return fmt.Errorf("failed to write table %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) tablePath(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}
