package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ParseDocument decodes the ingestion boundary format: either a JSON array of
// conversation objects, or an object holding a "conversations" array. An
// object without "conversations" is treated as a single conversation.
func ParseDocument(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	switch d := doc.(type) {
	case []any:
		return d, nil
	case map[string]any:
		convs, ok := d["conversations"]
		if !ok {
			return []any{d}, nil
		}
		items, ok := convs.([]any)
		if !ok {
			return nil, fmt.Errorf("decoding document: conversations must be an array, got %T", convs)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("decoding document: expected array or object, got %T", doc)
	}
}

// LoadFile reads and parses a .json file.
func LoadFile(path string) ([]any, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseDocument(data)
}
