package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/billing"
	"genstudio/internal/chat"
	"genstudio/internal/domain"
	"genstudio/internal/http/handlers"
	"genstudio/internal/jobs"
	"genstudio/internal/store/sqlitestore"
)

type instantProvider struct{}

func (instantProvider) Submit(context.Context, string, any) (string, error) { return "remote-1", nil }

func (instantProvider) Status(context.Context, string) (domain.TaskStatus, error) {
	return domain.TaskStatus{Phase: domain.TaskSucceeded, Output: []string{"https://out/1.mp4"}}, nil
}

type staticBalance struct{}

func (staticBalance) Current() (*billing.Balance, error) {
	return &billing.Balance{Credits: 900, USD: 9}, nil
}

func (staticBalance) Refresh(context.Context) (billing.Balance, error) {
	return billing.Balance{Credits: 900, USD: 9}, nil
}

func newServer(t *testing.T, balance handlers.BalanceReader) *httptest.Server {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	runner := jobs.NewRunner(instantProvider{}, jobs.Options{Interval: time.Millisecond})
	coord := chat.NewCoordinator(chat.Options{Store: store, Runner: runner})
	app := handlers.NewApp(coord, nil, balance, nil)
	srv := httptest.NewServer(NewRouter(app, Options{Logger: zerolog.Nop(), DefaultLocale: "en"}))
	t.Cleanup(func() {
		srv.Close()
		_ = coord.Shutdown(context.Background())
		_ = store.Close()
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthAndModels(t *testing.T) {
	srv := newServer(t, nil)

	resp, body := call(t, srv, http.MethodGet, "/v1/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	_, body = call(t, srv, http.MethodGet, "/v1/models", nil, nil)
	items, _ := body["items"].([]any)
	if len(items) != 7 {
		t.Fatalf("models = %d", len(items))
	}
	found := false
	for _, it := range items {
		m := it.(map[string]any)
		if m["id"] == "gen4_turbo" {
			found = true
			if m["credits"] != float64(25) || m["defaultRatio"] != "1280:720" {
				t.Fatalf("gen4_turbo = %v", m)
			}
		}
	}
	if !found {
		t.Fatal("gen4_turbo not listed")
	}

	_, body = call(t, srv, http.MethodGet, "/v1/models/gen4_turbo/cost?duration=10", nil, nil)
	if body["credits"] != float64(50) || body["usd"] != 0.5 {
		t.Fatalf("cost = %v", body)
	}
	resp, body = call(t, srv, http.MethodGet, "/v1/models/gen4_turbo/cost?ratio=1:1", nil, nil)
	if resp.StatusCode != http.StatusBadRequest || errorCode(body) != "config" {
		t.Fatalf("out of domain = %d %v", resp.StatusCode, body)
	}
	resp, _ = call(t, srv, http.MethodGet, "/v1/models/nope/cost", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown model = %d", resp.StatusCode)
	}
}

func TestBalance(t *testing.T) {
	resp, _ := call(t, newServer(t, nil), http.MethodGet, "/v1/balance", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("disabled balance = %d", resp.StatusCode)
	}
	resp, body := call(t, newServer(t, staticBalance{}), http.MethodGet, "/v1/balance?refresh=1", nil, nil)
	if resp.StatusCode != http.StatusOK || body["credits"] != float64(900) {
		t.Fatalf("balance = %d %v", resp.StatusCode, body)
	}
}

func TestChatFlow(t *testing.T) {
	srv := newServer(t, nil)

	resp, body := call(t, srv, http.MethodPost, "/local/chats", map[string]string{"name": "Foxes"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	id := body["id"].(string)

	resp, body = call(t, srv, http.MethodPatch, "/local/chats/"+id+"/draft", map[string]any{"model": "gen4_turbo", "prompt": "a fox"}, nil)
	if resp.StatusCode != http.StatusOK || body["model"] != "gen4_turbo" {
		t.Fatalf("draft = %d %v", resp.StatusCode, body)
	}

	resp, body = call(t, srv, http.MethodPut, "/local/chats/"+id+"/attachments/videoUri/0", map[string]string{"uri": "x"}, nil)
	if resp.StatusCode != http.StatusBadRequest || errorCode(body) != "config" {
		t.Fatalf("unknown slot = %d %v", resp.StatusCode, body)
	}

	resp, body = call(t, srv, http.MethodPost, "/local/chats/"+id+"/generate", nil, nil)
	if resp.StatusCode != http.StatusBadRequest || errorCode(body) != "validation" {
		t.Fatalf("missing slot = %d %v", resp.StatusCode, body)
	}

	resp, _ = call(t, srv, http.MethodPut, "/local/chats/"+id+"/attachments/promptImage/0", map[string]string{"uri": "https://a/fox.png"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set attachment = %d", resp.StatusCode)
	}

	resp, body = call(t, srv, http.MethodPost, "/local/chats/"+id+"/generate", nil, nil)
	if resp.StatusCode != http.StatusAccepted || body["credits"] != float64(25) {
		t.Fatalf("generate = %d %v", resp.StatusCode, body)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, body = call(t, srv, http.MethodGet, "/local/chats/"+id+"/messages", nil, map[string]string{"Accept-Language": "ru-RU"})
		items, _ := body["items"].([]any)
		if len(items) == 2 {
			last := items[1].(map[string]any)
			if last["status"] == "succeeded" {
				if last["statusLabel"] != "Готово" {
					t.Fatalf("label = %v", last["statusLabel"])
				}
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, _ = call(t, srv, http.MethodPatch, "/local/chats/"+id, map[string]string{"name": " "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank rename = %d", resp.StatusCode)
	}
	resp, _ = call(t, srv, http.MethodDelete, "/local/chats/"+id, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, body = call(t, srv, http.MethodGet, "/local/chats/"+id, nil, nil)
	if resp.StatusCode != http.StatusNotFound || errorCode(body) != "not_found" {
		t.Fatalf("deleted chat = %d %v", resp.StatusCode, body)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	resp, body := call(t, newServer(t, nil), http.MethodPost, "/v1/jobs/nope/cancel", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel = %d %v", resp.StatusCode, body)
	}
}

func TestPipelineWithoutDescriber(t *testing.T) {
	srv := newServer(t, nil)
	_, body := call(t, srv, http.MethodPost, "/local/chats", map[string]string{"name": "p"}, nil)
	id := body["id"].(string)
	resp, _ := call(t, srv, http.MethodPost, "/local/chats/"+id+"/pipeline", map[string]any{
		"model":    "gen4_image",
		"pipeline": map[string]any{"references": []string{"https://a/1.png"}},
	}, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("pipeline without describer = %d", resp.StatusCode)
	}
}
