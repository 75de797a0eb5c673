package logger

import "testing"

func TestStripURLSecrets(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://user:pw@example.com/data.json?sig=abc", "https://example.com/data.json"},
		{"https://example.com/data.json", "https://example.com/data.json"},
		{"file:///tmp/data.json", "file:///tmp/data.json"},
		{"not a url", "not a url"},
	}
	for _, tc := range cases {
		if got := StripURLSecrets(tc.in); got != tc.want {
			t.Fatalf("StripURLSecrets(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestSanitizeKVs(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "true")

	out := sanitizeKVs([]interface{}{
		"postgres_dsn", "postgres://u:p@h/db",
		"source", "https://u:p@example.com/x.json",
		"products", 3,
	})
	if len(out) != 6 {
		t.Fatalf("len: want=6 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("dsn: want redacted got=%v", out[1])
	}
	if out[3] != "https://example.com/x.json" {
		t.Fatalf("source: got=%v", out[3])
	}
	if out[5] != 3 {
		t.Fatalf("products: got=%v", out[5])
	}
}

func TestSanitizeKVsLeavesInputAndOddTail(t *testing.T) {
	in := []interface{}{"api_key", "k-123", "dangling"}
	out := sanitizeKVs(in)
	if in[1] != "k-123" {
		t.Fatalf("input mutated: got=%v", in[1])
	}
	if len(out) != 3 || out[1] != redacted || out[2] != "dangling" {
		t.Fatalf("out: got=%v", out)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"prod", "test", "dev", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.With("run_id", "r-1").Debug("scoped")
	}
}
