package billing

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return doc
}

func TestExtractCredits(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want float64
		ok   bool
	}{
		{"credit balance", `{"creditBalance":1234,"credits":1}`, 1234, true},
		{"credits", `{"credits":77}`, 77, true},
		{"organization credits", `{"organization":{"credits":12.5}}`, 12.5, true},
		{"nested key", `{"tier":{"name":"pro"},"usage":{"remainingCredits":42}}`, 42, true},
		{"string values ignored", `{"creditBalance":"lots","plan":"pro"}`, 0, false},
		{"array walk", `{"wallets":[{"name":"main"},{"creditsLeft":9}]}`, 9, true},
		{"empty", `{}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCredits(decode(t, tt.doc))
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ExtractCredits = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
	if _, ok := ExtractCredits(nil); ok {
		t.Fatal("nil document reported a balance")
	}
}

type fakeSource struct {
	doc   map[string]any
	err   error
	calls atomic.Int32
}

func (f *fakeSource) Organization(context.Context) (map[string]any, error) {
	f.calls.Add(1)
	return f.doc, f.err
}

func TestRefresh(t *testing.T) {
	src := &fakeSource{doc: map[string]any{"creditBalance": float64(250)}}
	w, err := NewWatcher(src, "@every 60s", nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if b, err := w.Current(); b != nil || err != nil {
		t.Fatalf("Current before refresh = %v, %v", b, err)
	}

	b, err := w.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if b.Credits != 250 || b.USD != 2.5 {
		t.Fatalf("balance = %+v", b)
	}

	src.err = errors.New("runway: 401")
	if _, err := w.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	last, err := w.Current()
	if last == nil || last.Credits != 250 || err == nil {
		t.Fatalf("Current after failure = %+v, %v", last, err)
	}

	src.err = nil
	src.doc = map[string]any{"plan": "free"}
	if _, err := w.Refresh(context.Background()); !errors.Is(err, ErrNoBalance) {
		t.Fatalf("error = %v", err)
	}
}

func TestNewWatcherRejectsBadSchedule(t *testing.T) {
	if _, err := NewWatcher(&fakeSource{}, "every minute", nil); err == nil {
		t.Fatal("expected schedule error")
	}
	if _, err := NewWatcher(&fakeSource{}, "*/5 * * * *", nil); err != nil {
		t.Fatalf("5-field spec rejected: %v", err)
	}
}

func TestStartRefreshesImmediately(t *testing.T) {
	src := &fakeSource{doc: map[string]any{"credits": float64(10)}}
	w, _ := NewWatcher(src, "@every 1h", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if b, _ := w.Current(); b != nil {
			if b.Credits != 10 {
				t.Fatalf("credits = %v", b.Credits)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no refresh after Start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if src.calls.Load() < 1 {
		t.Fatal("source not called")
	}
}
