// Package billing tracks the provider credit balance.
package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"genstudio/internal/catalog"
	"genstudio/internal/infra"
)

// ErrNoBalance is returned when the organization document carries no credit figure.
var ErrNoBalance = errors.New("billing: no credit balance in organization document")

// Source returns the provider's organization document.
type Source interface {
	Organization(ctx context.Context) (map[string]any, error)
}

// Balance is one observation of the credit balance.
type Balance struct {
	Credits   float64   `json:"credits"`
	USD       float64   `json:"usd"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Watcher refreshes the balance on a cron schedule and keeps the last value.
type Watcher struct {
	source  Source
	spec    string
	timeout time.Duration
	logger  *infra.Logger

	mu      sync.RWMutex
	last    *Balance
	lastErr error

	cron *cron.Cron
}

// NewWatcher validates spec ("@every 60s" or a 5-field expression).
func NewWatcher(source Source, spec string, logger *infra.Logger) (*Watcher, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("billing: schedule %q: %w", spec, err)
	}
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Watcher{source: source, spec: spec, timeout: 15 * time.Second, logger: logger}, nil
}

// Start refreshes once and then on every tick until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.spec, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("billing: schedule %q: %w", w.spec, err)
	}
	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()
	go w.tick(ctx)
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running refresh.
func (w *Watcher) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (w *Watcher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if b, err := w.Refresh(tctx); err != nil {
		w.logger.Warn().Err(err).Msg("billing: balance refresh failed")
	} else {
		w.logger.Debug().Float64("credits", b.Credits).Msg("billing: balance refreshed")
	}
}

// Refresh fetches the balance now.
func (w *Watcher) Refresh(ctx context.Context) (Balance, error) {
	doc, err := w.source.Organization(ctx)
	if err == nil {
		if credits, ok := ExtractCredits(doc); ok {
			b := Balance{Credits: credits, USD: catalog.USD(int(credits)), FetchedAt: time.Now().UTC()}
			w.mu.Lock()
			w.last, w.lastErr = &b, nil
			w.mu.Unlock()
			return b, nil
		}
		err = ErrNoBalance
	}
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	return Balance{}, err
}

// Current returns the last known balance and the error of the latest refresh.
func (w *Watcher) Current() (*Balance, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return nil, w.lastErr
	}
	b := *w.last
	return &b, w.lastErr
}

// ExtractCredits finds the credit figure in an organization document:
// creditBalance, credits, organization.credits, then the first numeric field
// anywhere whose key mentions "credit" (keys visited in sorted order).
func ExtractCredits(doc map[string]any) (float64, bool) {
	if doc == nil {
		return 0, false
	}
	if v, ok := number(doc["creditBalance"]); ok {
		return v, true
	}
	if v, ok := number(doc["credits"]); ok {
		return v, true
	}
	if org, ok := doc["organization"].(map[string]any); ok {
		if v, ok := number(org["credits"]); ok {
			return v, true
		}
	}
	return walk(doc)
}

func walk(v any) (float64, bool) {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), "credit") {
				if n, ok := number(node[k]); ok {
					return n, true
				}
			}
			if n, ok := walk(node[k]); ok {
				return n, true
			}
		}
	case []any:
		for _, item := range node {
			if n, ok := walk(item); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
