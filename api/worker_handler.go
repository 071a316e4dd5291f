package api

import "net/http"

// handleListWorkers returns the registered workers.
// GET /v1/workers
func (a *API) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.store.ListWorkers(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	respondOK(w, r, workers)
}

// handleHealth pings the store.
// GET /v1/health
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeInternal, err.Error())
		return
	}
	respondOK(w, r, map[string]string{"store": "ok"})
}
