package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLint(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{
			name: "valid marker",
			src:  "package q\n\nconst QList = `--sql 0b7c3f5e-8a41-4c6e-9d52-1f0a6b2e7c91\nselect id from chats`\n",
		},
		{
			name:    "missing marker",
			src:     "package q\n\nconst QList = `\nselect id from chats`\n",
			wantMsg: "missing or invalid",
		},
		{
			name:    "malformed marker",
			src:     "package q\n\nconst QList = `--sql not-a-uuid\nselect id from chats`\n",
			wantMsg: "missing or invalid",
		},
		{
			name: "duplicate marker",
			src: "package q\n\nconst (\n\tQA = `--sql 0b7c3f5e-8a41-4c6e-9d52-1f0a6b2e7c91\nselect 1`\n" +
				"\tQB = `--sql 0b7c3f5e-8a41-4c6e-9d52-1f0a6b2e7c91\nselect 2`\n)\n",
			wantMsg: "already used by QA",
		},
		{
			name: "prose is ignored",
			src:  "package q\n\nconst hint = \"select a model first\"\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeGo(t, dir, "q.go", tc.src)
			got, err := lint([]string{dir})
			if err != nil {
				t.Fatalf("lint: %v", err)
			}
			if tc.wantMsg == "" {
				if len(got) != 0 {
					t.Fatalf("unexpected violations: %+v", got)
				}
				return
			}
			if len(got) != 1 || !strings.Contains(got[0].message, tc.wantMsg) {
				t.Fatalf("violations = %+v, want one containing %q", got, tc.wantMsg)
			}
		})
	}
}

func TestRunReportsViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QList = `\nselect id from chats`\n")
	writeGo(t, dir, "q_test.go", "package q\n\nconst qFixture = `\nselect 1`\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 {
		t.Fatalf("run = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "QList") || strings.Contains(stderr.String(), "qFixture") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestSQLInlinePackageIsClean(t *testing.T) {
	got, err := lint([]string{"../../sqlinline"})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("sqlinline violations: %+v", got)
	}
}
