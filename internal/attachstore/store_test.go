package attachstore

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSaveReadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	received := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	res, err := store.Save(ctx, "42", "invoice.pdf", []byte("hello"), received)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.FileSize != 5 {
		t.Errorf("FileSize = %d, want 5", res.FileSize)
	}
	if !strings.HasPrefix(res.StoredName, "202603051430_42_") {
		t.Errorf("StoredName = %q, want prefix 202603051430_42_", res.StoredName)
	}
	if !strings.HasSuffix(res.StoredName, ".pdf") {
		t.Errorf("StoredName = %q, want .pdf suffix", res.StoredName)
	}

	data, err := store.Read(ctx, res.StoredName)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Read = %q, want hello", data)
	}

	ok, err := store.Delete(ctx, res.StoredName)
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}

	data, err = store.Read(ctx, res.StoredName)
	if err != nil {
		t.Fatalf("Read after delete: %v", err)
	}
	if data != nil {
		t.Errorf("Read after delete = %v, want nil", data)
	}
}

func TestSaveUniqueNamesForSameFilename(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	ctx := context.Background()

	a, _ := store.Save(ctx, "1", "dup.txt", []byte("a"), time.Now())
	b, _ := store.Save(ctx, "1", "dup.txt", []byte("b"), time.Now())

	if a.StoredName == b.StoredName {
		t.Errorf("expected distinct stored names, got %q twice", a.StoredName)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	ctx := context.Background()

	if _, err := store.Save(ctx, "1", "fresh.txt", []byte("x"), time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	count, err := store.CleanupOlderThan(30)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 cleaned (file is fresh), got %d", count)
	}
}
