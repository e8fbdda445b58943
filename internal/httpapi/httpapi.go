// Package httpapi serves the recorded offers as read-only JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"offerbot/internal/offer"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Lister is the read side of the record store.
type Lister interface {
	List(ctx context.Context, limit int) ([]offer.Record, error)
}

type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	records Lister
	log     Logger
}

func New(records Lister, log Logger) *Handler {
	return &Handler{records: records, log: log}
}

// Routes builds the router:
//
//	GET /health
//	GET /api/records?limit=N&offer_id=ID
//	GET /api/records/{offerID}
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/records", h.ListRecords)
		r.Get("/records/{offerID}", h.OfferRecords)
	})
	return r
}

type listResp struct {
	Count   int            `json:"count"`
	Records []offer.Record `json:"records"`
}

// ListRecords returns the newest records first.
// GET /api/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	offerID := r.URL.Query().Get("offer_id")
	if offerID != "" {
		h.writeFiltered(w, r, offerID, limit)
		return
	}

	records, err := h.records.List(r.Context(), limit)
	if err != nil {
		h.log.Errorf("list records: %v", err)
		jsonError(w, "failed to list records", http.StatusInternalServerError)
		return
	}
	jsonOK(w, http.StatusOK, listResp{Count: len(records), Records: nonNil(records)})
}

// OfferRecords returns every record of one offer id; an offer committed more
// than once has several.
// GET /api/records/{offerID}
func (h *Handler) OfferRecords(w http.ResponseWriter, r *http.Request) {
	h.writeFiltered(w, r, chi.URLParam(r, "offerID"), 0)
}

func (h *Handler) writeFiltered(w http.ResponseWriter, r *http.Request, offerID string, limit int) {
	records, err := h.records.List(r.Context(), 0)
	if err != nil {
		h.log.Errorf("list records for %s: %v", offerID, err)
		jsonError(w, "failed to list records", http.StatusInternalServerError)
		return
	}

	var out []offer.Record
	for _, rec := range records {
		if rec.OfferID != offerID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		jsonError(w, "no records for offer "+offerID, http.StatusNotFound)
		return
	}
	jsonOK(w, http.StatusOK, listResp{Count: len(out), Records: out})
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func nonNil(records []offer.Record) []offer.Record {
	if records == nil {
		return []offer.Record{}
	}
	return records
}

// Start serves h on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, h http.Handler, log Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Infof("Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func jsonOK(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
