package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type componentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type healthResp struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Commit     string                     `json:"commit,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]componentHealth `json:"components,omitempty"`
}

// healthHandler is the liveness probe: the process is up and serving.
func (cfg Config) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResp{
			Status:    "ok",
			Version:   cfg.Build.Version,
			Commit:    cfg.Build.Commit,
			Timestamp: time.Now().UTC(),
		})
	})
}

// readyHandler probes both backing stores. Returns 503 when either is
// down so load balancers stop routing before requests start failing.
func (cfg Config) readyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResp{
			Status:     "ready",
			Version:    cfg.Build.Version,
			Timestamp:  time.Now().UTC(),
			Components: make(map[string]componentHealth),
		}
		code := http.StatusOK

		probe := func(name string, ping func(ctx context.Context) error) {
			if ping == nil {
				return
			}
			start := time.Now()
			ch := componentHealth{Status: "up"}
			if err := ping(ctx); err != nil {
				ch.Status = "down"
				ch.Error = err.Error()
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
			}
			ch.LatencyMS = time.Since(start).Milliseconds()
			resp.Components[name] = ch
		}

		probe("database", cfg.DBPing)
		probe("blob_store", cfg.BlobPing)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
