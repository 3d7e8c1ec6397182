// Package artifacts persists raw item content and extraction results
// on the local filesystem. References handed back are plain file paths
// and are treated as opaque by everything else.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"raw", "extractions"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) SaveRaw(itemKey string, data []byte) (string, error) {
	ref := filepath.Join(s.dir, "raw", sanitizeKey(itemKey)+".eml")
	if err := os.WriteFile(ref, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write raw artifact for %s: %w", itemKey, err)
	}
	return ref, nil
}

func (s *Store) LoadRaw(ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw artifact %s: %w", ref, err)
	}
	return data, nil
}

func (s *Store) SaveExtraction(itemKey string, v any) (string, error) {
	ref := filepath.Join(s.dir, "extractions", sanitizeKey(itemKey)+"_extraction.json")
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction for %s: %w", itemKey, err)
	}
	if err := os.WriteFile(ref, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write extraction artifact for %s: %w", itemKey, err)
	}
	return ref, nil
}

func (s *Store) LoadExtraction(ref string, into any) error {
	data, err := os.ReadFile(ref)
	if err != nil {
		return fmt.Errorf("failed to read extraction artifact %s: %w", ref, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode extraction artifact %s: %w", ref, err)
	}
	return nil
}

// sanitizeKey removes characters that might cause issues in file names.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		"://", "_",
		"/", "_",
		"?", "_",
		"&", "_",
		"=", "_",
		"#", "_",
		" ", "_",
		":", "_",
	)
	key = replacer.Replace(key)

	if len(key) > 200 {
		key = key[:200]
	}

	return key
}
