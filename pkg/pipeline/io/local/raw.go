package local

import (
	"encoding/json"
	"io"
	"os"
)

// WriteJSON writes v as a single JSON document, atomically.
//
// Used for raw tweet dumps, which the keyword filter consumes as a JSON array.
func WriteJSON(path string, v any) error {
	return WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	})
}

// ReadJSONArray reads a JSON array and returns its elements undecoded.
func ReadJSONArray(path string) ([]json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
