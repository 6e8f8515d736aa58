package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dropbin/internal/drop"
)

var (
	dropsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_drops_created_total",
		Help: "Drops successfully created.",
	})
	dropsServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_drops_served_total",
		Help: "Drop downloads successfully started.",
	})
	dropBytesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_bytes_in_total",
		Help: "Payload bytes accepted.",
	})
	dropBytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_bytes_out_total",
		Help: "Payload bytes served.",
	})
)

// createDropResp is the JSON body returned after a successful upload.
// OwnerToken is shown exactly once; the server keeps only its digest.
type createDropResp struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	OwnerToken   string `json:"owner_token"`
	SizeBytes    int64  `json:"size_bytes"`
	ContentType  string `json:"content_type,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	MaxDownloads *int   `json:"max_downloads,omitempty"`
}

// createDropHandler handles POST /drops: the raw request body is the
// payload, lifecycle parameters travel in the query string and headers.
//
// Query parameters: ttl (Go duration, optional), max_downloads (>= 1,
// optional). Header X-Drop-Password sets an optional download password.
func (cfg Config) createDropHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		}

		policy := drop.Policy{Password: r.Header.Get("X-Drop-Password")}

		if raw := r.URL.Query().Get("ttl"); raw != "" {
			ttl, err := time.ParseDuration(raw)
			if err != nil || ttl <= 0 {
				http.Error(w, "bad ttl", http.StatusBadRequest)
				return
			}
			policy.TTL = ttl
		}

		if raw := r.URL.Query().Get("max_downloads"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "bad max_downloads", http.StatusBadRequest)
				return
			}
			// Zero is rejected here and again by the engine: a drop
			// nobody can download is a mistake, not a policy.
			policy.MaxDownloads = &n
		}

		res, err := cfg.Engine.Create(r.Context(), drop.CreateParams{
			Body:        r.Body,
			ContentType: r.Header.Get("Content-Type"),
			Origin:      clientIP(r, cfg.BehindProxy),
			SizeHint:    r.ContentLength,
			Policy:      policy,
		})
		if err != nil {
			writeCreateError(w, r, err)
			return
		}

		dropsCreatedTotal.Inc()
		dropBytesInTotal.Add(float64(res.Drop.SizeBytes))

		resp := createDropResp{
			ID:           res.Drop.ID,
			URL:          cfg.BaseURL + "/drops/" + res.Drop.ID,
			OwnerToken:   res.OwnerToken,
			SizeBytes:    res.Drop.SizeBytes,
			ContentType:  res.Drop.ContentType,
			MaxDownloads: res.Drop.MaxDownloads,
		}
		if res.Drop.ExpiresAt != nil {
			resp.ExpiresAt = res.Drop.ExpiresAt.Format(time.RFC3339)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func writeCreateError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr), errors.Is(err, drop.ErrTooLarge):
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, drop.ErrInvalidPolicy):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, drop.ErrQuotaExceeded):
		http.Error(w, "quota exceeded", http.StatusForbidden)
	case drop.IsTransient(err):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		rid := RequestIDFromContext(r.Context())
		log.Printf("rid=%s msg=%q err=%v", rid, "create_failed", err)
		http.Error(w, "upload failed", http.StatusBadGateway)
	}
}

// downloadDropHandler handles GET /drops/{id} and streams the payload.
// The engine commits the download-count increment before the first byte
// goes out.
func (cfg Config) downloadDropHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		rc, d, err := cfg.Engine.Retrieve(r.Context(), id, r.Header.Get("X-Drop-Password"))
		if err != nil {
			writeRetrieveError(w, r, err)
			return
		}
		defer func() { _ = rc.Close() }()

		if d.ContentType != "" {
			w.Header().Set("Content-Type", d.ContentType)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Header().Set("Content-Length", strconv.FormatInt(d.SizeBytes, 10))
		w.Header().Set("Content-Disposition", `attachment; filename="`+d.ID+`"`)

		w.WriteHeader(http.StatusOK)

		dropsServedTotal.Inc()
		n, _ := io.Copy(w, rc)
		dropBytesOutTotal.Add(float64(n))
	})
}

func writeRetrieveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, drop.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, drop.ErrExpired):
		http.Error(w, "drop expired", http.StatusGone)
	case errors.Is(err, drop.ErrLimitExceeded):
		http.Error(w, "download limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, drop.ErrForbidden):
		http.Error(w, "password required", http.StatusUnauthorized)
	case drop.IsTransient(err):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		rid := RequestIDFromContext(r.Context())
		log.Printf("rid=%s msg=%q err=%v", rid, "retrieve_failed", err)
		http.Error(w, "storage error", http.StatusBadGateway)
	}
}

// revokeDropHandler handles DELETE /drops/{id}, authorized by the
// X-Owner-Token header handed out at creation.
func (cfg Config) revokeDropHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		token := r.Header.Get("X-Owner-Token")
		if token == "" {
			http.Error(w, "missing owner token", http.StatusUnauthorized)
			return
		}

		err := cfg.Engine.Revoke(r.Context(), id, token)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, drop.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, drop.ErrForbidden):
			http.Error(w, "bad owner token", http.StatusForbidden)
		case drop.IsTransient(err):
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		default:
			rid := RequestIDFromContext(r.Context())
			log.Printf("rid=%s msg=%q err=%v", rid, "revoke_failed", err)
			http.Error(w, "delete failed", http.StatusBadGateway)
		}
	})
}
