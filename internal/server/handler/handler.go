// Package handler exposes the phrase table over HTTP/JSON.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/phrasetable"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/server/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Table is the phrase table surface served by the handler.
type Table interface {
	GetTranslationOptions(ctx context.Context, phrase []model.Wid, domains model.Context) []model.TranslationOption
	GetAllTranslationOptions(ctx context.Context, sentence []model.Wid, domains model.Context) map[string][]model.TranslationOption
	Add(id model.UpdateID, domain model.Domain, source, target []model.Wid, alignment model.Alignment) error
	GetLatestUpdatesIdentifier() map[model.Stream]model.Seq
	Stats() phrasetable.Stats
}

// Handler serves the /api/v1 routes.
type Handler struct {
	table  Table
	cache  *cache.OptionCache
	logger *slog.Logger
}

// New creates a Handler. queryCache may be nil.
func New(table Table, queryCache *cache.OptionCache) *Handler {
	return &Handler{
		table:  table,
		cache:  queryCache,
		logger: slog.Default().With("component", "phrase-table-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/options", h.Options)
	mux.HandleFunc("POST /api/v1/options/all", h.AllOptions)
	mux.HandleFunc("POST /api/v1/updates", h.Updates)
	mux.HandleFunc("GET /api/v1/updates/latest", h.LatestUpdates)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
}

// OptionsResponse is the body of a phrase lookup.
type OptionsResponse struct {
	Phrase   []model.Wid               `json:"phrase"`
	Options  []model.TranslationOption `json:"options"`
	CacheHit bool                      `json:"cache_hit"`
}

// Options handles GET /api/v1/options?phrase=5,12&context=1:0.5,2:0.5.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	phrase, err := model.ParsePhrase(r.URL.Query().Get("phrase"))
	if err != nil || len(phrase) == 0 {
		h.writeError(w, fmt.Errorf("%w: query parameter 'phrase' must be a non-empty id list", apperrors.ErrInvalidInput))
		return
	}
	domains, err := ParseContext(r.URL.Query().Get("context"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	compute := func(ctx context.Context) []model.TranslationOption {
		return h.table.GetTranslationOptions(ctx, phrase, domains)
	}
	var (
		options []model.TranslationOption
		hit     bool
	)
	if h.cache != nil {
		options, hit = h.cache.Options(ctx, phrase, domains, compute)
	} else {
		options = compute(ctx)
	}
	if options == nil {
		options = []model.TranslationOption{}
	}

	logger.FromContext(ctx).Debug("options lookup",
		"phrase", model.PhraseKey(phrase),
		"options", len(options),
		"cache_hit", hit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, OptionsResponse{Phrase: phrase, Options: options, CacheHit: hit})
}

// AllOptionsRequest is the body of POST /api/v1/options/all.
type AllOptionsRequest struct {
	Sentence []model.Wid   `json:"sentence"`
	Context  model.Context `json:"context"`
}

// AllOptionsResponse maps every matched sub-phrase to its options.
type AllOptionsResponse struct {
	Options  map[string][]model.TranslationOption `json:"options"`
	CacheHit bool                                 `json:"cache_hit"`
}

// AllOptions handles POST /api/v1/options/all.
func (h *Handler) AllOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req AllOptionsRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.Sentence) == 0 {
		h.writeError(w, fmt.Errorf("%w: 'sentence' is required", apperrors.ErrInvalidInput))
		return
	}

	compute := func(ctx context.Context) map[string][]model.TranslationOption {
		return h.table.GetAllTranslationOptions(ctx, req.Sentence, req.Context)
	}
	var resp AllOptionsResponse
	if h.cache != nil {
		resp.Options, resp.CacheHit = h.cache.AllOptions(ctx, req.Sentence, req.Context, compute)
	} else {
		resp.Options = compute(ctx)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// UpdateRequest is one sentence pair of POST /api/v1/updates.
type UpdateRequest struct {
	Stream    model.Stream    `json:"stream"`
	Seq       model.Seq       `json:"seq"`
	Domain    model.Domain    `json:"domain"`
	Source    []model.Wid     `json:"source"`
	Target    []model.Wid     `json:"target"`
	Alignment model.Alignment `json:"alignment"`
}

// UpdatesRequest is the body of POST /api/v1/updates.
type UpdatesRequest struct {
	Updates []UpdateRequest `json:"updates"`
}

// Updates handles POST /api/v1/updates. Updates are accepted for
// asynchronous indexing; the response reports how many were queued.
func (h *Handler) Updates(w http.ResponseWriter, r *http.Request) {
	var req UpdatesRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	for i, u := range req.Updates {
		if len(u.Source) == 0 || len(u.Target) == 0 {
			h.writeError(w, fmt.Errorf("%w: update %d has an empty sentence", apperrors.ErrInvalidInput, i))
			return
		}
		id := model.UpdateID{Stream: u.Stream, Seq: u.Seq}
		if err := h.table.Add(id, u.Domain, u.Source, u.Target, u.Alignment); err != nil {
			h.writeError(w, fmt.Errorf("update %d: %w", i, err))
			return
		}
	}
	h.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Updates)})
}

// LatestUpdates handles GET /api/v1/updates/latest. Stream ids are rendered
// as JSON object keys.
func (h *Handler) LatestUpdates(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"streams": h.table.GetLatestUpdatesIdentifier()})
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.table.Stats())
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"circuit":  h.cache.CircuitState().String(),
	})
}

// ParseContext parses "domain:weight" pairs separated by commas. An empty
// string is the nil context.
func ParseContext(s string) (model.Context, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out model.Context
	for _, part := range strings.Split(s, ",") {
		d, wt, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%w: context entry %q is not domain:weight", apperrors.ErrInvalidInput, part)
		}
		domain, err := strconv.ParseUint(d, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: context domain %q", apperrors.ErrInvalidInput, d)
		}
		weight, err := strconv.ParseFloat(wt, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: context weight %q", apperrors.ErrInvalidInput, wt)
		}
		out = append(out, model.ContextEntry{Domain: model.Domain(domain), Weight: float32(weight)})
	}
	return out, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("%w: decoding request body: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrClosed) {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
