package local

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadIdentifiers reads a newline-delimited list of tweet IDs.
//
// Blank lines and lines starting with '#' are skipped. Order and duplicates are kept:
// deduplication happens at merge time, not here.
func ReadIdentifiers(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ids []string
	line := 0
	for sc.Scan() {
		line++
		id := strings.TrimSpace(sc.Text())
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read identifiers (line %d): %w", line+1, err)
	}
	return ids, nil
}

// Window returns ids[start:end] clamped to the slice bounds. end <= 0 means "to the end".
func Window(ids []string, start, end int) []string {
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > len(ids) {
		end = len(ids)
	}
	if start >= end {
		return nil
	}
	return ids[start:end]
}
