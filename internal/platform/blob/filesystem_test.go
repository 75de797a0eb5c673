package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilesystemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "objects")
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket (second): %v", err)
	}

	key := "datasets/abc.json"
	ok, err := store.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("Exists before put: ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, key, strings.NewReader("[]"), 2); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists after put: ok=%v err=%v", ok, err)
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "[]" {
		t.Fatalf("body: got=%q", body)
	}

	if got, want := store.URI(key), "file://"+filepath.ToSlash(filepath.Join(root, "datasets", "abc.json")); got != want {
		t.Fatalf("URI: want=%q got=%q", want, got)
	}

	entries, err := os.ReadDir(filepath.Join(root, "datasets"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one object file, got %d", len(entries))
	}
}

func TestFilesystemStoreShortWriteRejected(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	err = store.Put(context.Background(), "datasets/x.json", strings.NewReader("abc"), 10)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if ok, _ := store.Exists(context.Background(), "datasets/x.json"); ok {
		t.Fatalf("short write must not leave an object behind")
	}
}

func TestFilesystemStoreKeyCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	p, err := store.path("../../etc/passwd")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if !strings.HasPrefix(p, root) {
		t.Fatalf("path escaped root: %s", p)
	}
}
