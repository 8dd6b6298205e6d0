package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend stores one <profile>.json document per instance in a shared
// directory. Writes go to a temp file and are renamed into place so a crash
// can never leave a truncated document behind.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the state directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("state: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir %q: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(profileID string) string {
	return filepath.Join(b.dir, profileID+".json")
}

// Save writes the document atomically.
func (b *FileBackend) Save(_ context.Context, doc Document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	final := b.path(doc.ProfileID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads one profile's document. Absent files yield (nil, nil).
func (b *FileBackend) Load(_ context.Context, profileID string) (*Document, error) {
	payload, err := os.ReadFile(b.path(profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %q: %w", b.path(profileID), err)
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse %q: %w", b.path(profileID), err)
	}
	return &doc, nil
}

// LoadAll reads every document in the directory, skipping unreadable ones.
func (b *FileBackend) LoadAll(_ context.Context) ([]Document, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", b.dir, err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error {
	return nil
}
