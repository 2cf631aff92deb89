package infra

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type recordingExecutor struct {
	queries []string
}

func (r *recordingExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	r.queries = append(r.queries, query)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (r *recordingExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	r.queries = append(r.queries, query)
	return errorRow{err: pgx.ErrNoRows}
}

func (r *recordingExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	r.queries = append(r.queries, query)
	return nil, errors.New("not implemented")
}

func TestExtractMarker(t *testing.T) {
	marker, body, err := ExtractMarker("\n  --sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7\nselect 1;\n")
	if err != nil {
		t.Fatalf("ExtractMarker: %v", err)
	}
	if marker != "8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7" || strings.TrimSpace(body) != "select 1;" {
		t.Fatalf("marker = %q, body = %q", marker, body)
	}
	for _, q := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", ""} {
		if _, _, err := ExtractMarker(q); !errors.Is(err, ErrMissingMarker) {
			t.Fatalf("ExtractMarker(%q) error = %v", q, err)
		}
	}
}

func TestSQLRunnerStripsMarker(t *testing.T) {
	exec := &recordingExecutor{}
	runner := NewSQLRunner(exec, zerolog.New(io.Discard))
	query := "--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3\nupdate chats set name = $1;"

	if _, err := runner.Exec(context.Background(), query, "x"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := runner.QueryRow(context.Background(), query).Scan(); !IsNoRows(err) {
		t.Fatalf("QueryRow error = %v", err)
	}
	if len(exec.queries) != 2 || exec.queries[0] != "update chats set name = $1;" {
		t.Fatalf("queries = %#v", exec.queries)
	}
	if _, err := runner.Exec(context.Background(), "delete from chats;"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("unmarked Exec error = %v", err)
	}
	if len(exec.queries) != 2 {
		t.Fatal("unmarked query reached the database")
	}
}
