package local_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/io/local"
)

func TestReadIdentifiers(t *testing.T) {
	t.Run("keeps order and duplicates", func(t *testing.T) {
		in := "1307025659294674945\n\n  1307025659294674946  \n# comment\n1307025659294674945\n"
		got, err := local.ReadIdentifiers(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"1307025659294674945", "1307025659294674946", "1307025659294674945"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("got %v want %v", got, want)
		}
	})

	t.Run("handles CRLF", func(t *testing.T) {
		got, err := local.ReadIdentifiers(strings.NewReader("1\r\n2\r\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0] != "1" || got[1] != "2" {
			t.Fatalf("unexpected ids: %#v", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		got, err := local.ReadIdentifiers(strings.NewReader(""))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no ids, got %v", got)
		}
	})
}

func TestWindow(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	tests := []struct {
		name       string
		start, end int
		want       string
	}{
		{name: "all", start: 0, end: 0, want: "a,b,c,d"},
		{name: "head", start: 0, end: 2, want: "a,b"},
		{name: "tail clamp", start: 2, end: 99, want: "c,d"},
		{name: "negative start", start: -3, end: 1, want: "a"},
		{name: "empty", start: 3, end: 2, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(local.Window(ids, tt.start, tt.end), ",")
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dataset.csv")
	if err := os.WriteFile(dest, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("failed fill leaves dest untouched", func(t *testing.T) {
		err := local.WriteFileAtomic(dest, 0o644, func(w io.Writer) error {
			_, _ = io.WriteString(w, "partial")
			return errors.New("boom")
		})
		if err == nil {
			t.Fatalf("expected error")
		}
		b, _ := os.ReadFile(dest)
		if string(b) != "original" {
			t.Fatalf("dest modified: %q", b)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Fatalf("temp file left behind: %v", entries)
		}
	})

	t.Run("success replaces dest", func(t *testing.T) {
		err := local.WriteFileAtomic(dest, 0o644, func(w io.Writer) error {
			_, err := io.WriteString(w, "replaced")
			return err
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, _ := os.ReadFile(dest)
		if string(b) != "replaced" {
			t.Fatalf("got %q", b)
		}
	})
}

func TestJSONRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "raw", "tweets.json")
	if err := local.WriteJSON(p, []map[string]any{{"id_str": "1"}, {"id_str": "2"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := local.ReadJSONArray(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || !strings.Contains(string(got[1]), `"2"`) {
		t.Fatalf("unexpected: %s", got)
	}
}
