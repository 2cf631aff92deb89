package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key, err := store.Write(context.Background(), "/generated/job-1/0.webp", []byte("data"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "generated/job-1/0.webp" {
		t.Fatalf("key = %q", key)
	}
	if _, err := os.Stat(filepath.Join(dir, "generated", "job-1", "0.webp")); err != nil {
		t.Fatalf("file missing: %v", err)
	}
	data, err := store.Read(context.Background(), key)
	if err != nil || string(data) != "data" {
		t.Fatalf("Read = %q, %v", data, err)
	}
	if got := store.PublicURL(key); got != "http://localhost:8080/static/generated/job-1/0.webp" {
		t.Fatalf("PublicURL = %q", got)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a/b.png", want: "a/b.png"},
		{in: "./a//b.png", want: "a/b.png"},
		{in: `a\b.png`, want: "a/b.png"},
		{in: "../etc/passwd", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: " ", wantErr: true},
		{in: "..", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("sanitizeKey(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPublicURLWithoutBase(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if got := store.PublicURL("generated/a b.png"); got != "/generated/a%20b.png" {
		t.Fatalf("PublicURL = %q", got)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore("  ", ""); err == nil {
		t.Fatal("expected error for empty base path")
	}
}
