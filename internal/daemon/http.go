package daemon

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harun/moonlight/internal/observability"
	"github.com/harun/moonlight/internal/tracing"
	"github.com/harun/moonlight/pkg/pool"
)

// PoolResponse is the body of GET /pool
type PoolResponse struct {
	Name     string      `json:"name"`
	Stats    pool.Stats  `json:"stats"`
	Browsers []pool.Info `json:"browsers"`
	Status   Status      `json:"daemon"`
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /pool", d.handlePool)
	mux.HandleFunc("GET /pool/browsers/{id}", d.handleBrowser)
	mux.HandleFunc("POST /pool/browsers/{id}/recycle", d.handleRecycle)

	if d.config.Metrics.Enabled {
		observability.EnsureRegistered()
		mux.Handle("GET "+d.config.Metrics.Path, observability.MetricsHandler())
	}
	return mux
}

func (d *Daemon) handlePool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PoolResponse{
		Name:     d.pool.Name(),
		Stats:    d.pool.Stats(),
		Browsers: d.pool.Snapshot(),
		Status:   d.Status(),
	})
}

func (d *Daemon) handleBrowser(w http.ResponseWriter, r *http.Request) {
	info, err := d.pool.Info(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (d *Daemon) handleRecycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithOperation(tracing.WithTraceID(r.Context(), traceID), "recycle")
	log := tracing.LoggerFromContext(ctx, d.log)

	if err := d.pool.Recycle(ctx, id); err != nil {
		log.Warn().Err(err).Str("browser_id", id).Msg("Recycle request failed")
		writeError(w, err)
		return
	}

	log.Info().Str("browser_id", id).Msg("Browser recycled on request")
	writeJSON(w, http.StatusOK, map[string]string{"status": "recycled", "id": id})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrInvalidBrowserID):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrBrowserInitializing):
		status = http.StatusConflict
	case errors.Is(err, pool.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
