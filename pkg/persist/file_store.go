package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes each slot as a JSON file under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("state base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Load reads and unmarshals the slot file. A missing or unparsable
// file reports found=false.
func (f *FileStore) Load(_ context.Context, slot string, v any) (bool, error) {
	data, err := os.ReadFile(f.slotPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read slot %s: %w", slot, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Corrupt snapshot, treat as absent.
		return false, nil
	}
	return true, nil
}

// Save writes the slot atomically via a temp file rename.
func (f *FileStore) Save(_ context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", slot, err)
	}
	target := f.slotPath(slot)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write slot %s: %w", slot, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit slot %s: %w", slot, err)
	}
	return nil
}

// Delete removes the slot file if present.
func (f *FileStore) Delete(_ context.Context, slot string) error {
	err := os.Remove(f.slotPath(slot))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete slot %s: %w", slot, err)
	}
	return nil
}

func (f *FileStore) slotPath(slot string) string {
	name := strings.TrimSpace(slot)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" {
		name = "state"
	}
	return filepath.Join(f.basePath, name+".json")
}
