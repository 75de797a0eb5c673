package ingest

import (
	"path/filepath"
	"testing"
)

func TestResolveSource(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "data.json")
	cases := []struct {
		in       string
		kind     sourceKind
		location string
	}{
		{abs, sourceLocal, abs},
		{"file://" + abs, sourceLocal, abs},
		{"https://example.com/data.json", sourceRemote, "https://example.com/data.json"},
		{"http://[::1]:8080/data.json", sourceRemote, "http://[::1]:8080/data.json"},
	}
	for _, tc := range cases {
		got, err := resolveSource(tc.in)
		if err != nil {
			t.Fatalf("resolveSource(%q): %v", tc.in, err)
		}
		if got.kind != tc.kind || got.location != tc.location {
			t.Fatalf("resolveSource(%q): want=%d %q got=%d %q", tc.in, tc.kind, tc.location, got.kind, got.location)
		}
	}
}

func TestResolveSourceRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "git::https://example.com/repo.git", "s3::https://s3.amazonaws.com/b/k", "ftp://example.com/data.json"} {
		if _, err := resolveSource(in); err == nil {
			t.Fatalf("resolveSource(%q): expected an error", in)
		}
	}
}
