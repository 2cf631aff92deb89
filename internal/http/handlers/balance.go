package handlers

import (
	"net/http"
)

// BalanceShow returns the cached credit balance; ?refresh=1 fetches it first.
func (a *App) BalanceShow(w http.ResponseWriter, r *http.Request) {
	if a.Balance == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "balance tracking is disabled")
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		if _, err := a.Balance.Refresh(r.Context()); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	b, err := a.Balance.Current()
	if b == nil {
		msg := "balance not fetched yet"
		if err != nil {
			msg = err.Error()
		}
		a.error(w, http.StatusServiceUnavailable, "unavailable", msg)
		return
	}
	resp := map[string]any{"credits": b.Credits, "usd": b.USD, "fetchedAt": b.FetchedAt}
	if err != nil {
		resp["stale"] = true
		resp["error"] = err.Error()
	}
	a.json(w, http.StatusOK, resp)
}
