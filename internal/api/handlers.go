package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/maltedev/catalog-crawler/internal/models"
	"github.com/maltedev/catalog-crawler/internal/storage"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = time.Minute
)

// RunReader is the read side of the run state store.
type RunReader interface {
	Runs() (map[string]models.RunMetadata, error)
	ItemIDs() ([]string, error)
	Item(id string) (*models.ItemRecord, error)
	Skipped() (map[string]models.SkipReason, error)
	Processed() ([]string, error)
}

// OutboxStats reports relay backlog for the health check.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	store  RunReader
	outbox OutboxStats
	items  *expirable.LRU[string, *models.ItemRecord]
	logger *slog.Logger
}

// NewHandlers builds the handlers. outbox may be nil when no mirror runs.
// Item records are cached for ttl so a later run shows up eventually.
func NewHandlers(store RunReader, outbox OutboxStats, cacheSize int, ttl time.Duration, logger *slog.Logger) *Handlers {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Handlers{
		store:  store,
		outbox: outbox,
		items:  expirable.NewLRU[string, *models.ItemRecord](cacheSize, nil, ttl),
		logger: logger.With("component", "api"),
	}
}

// RunSummary is one entry of the run listing.
type RunSummary struct {
	Key string `json:"key"`
	models.RunMetadata
}

// Health reports liveness and, with a relay configured, the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pendingCount, err := h.outbox.GetPendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending events", "error", err)
		}
		deadLetterCount, err := h.outbox.GetDeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// ListRuns returns the metadata of every persisted run, oldest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Runs()
	if err != nil {
		h.logger.Error("failed to read runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read runs")
		return
	}

	summaries := make([]RunSummary, 0, len(runs))
	for key, meta := range runs {
		summaries = append(summaries, RunSummary{Key: key, RunMetadata: meta})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })

	h.respondJSON(w, http.StatusOK, summaries)
}

// ListItems returns the ids present in the structured output.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ItemIDs()
	if err != nil {
		h.logger.Error("failed to list items", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(ids),
		"ids":   ids,
	})
}

// GetItem returns the latest record of one item.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "item ID is required")
		return
	}

	if record, ok := h.items.Get(id); ok {
		h.respondJSON(w, http.StatusOK, record)
		return
	}

	record, err := h.store.Item(id)
	if errors.Is(err, storage.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read item", "item_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read item")
		return
	}

	h.items.Add(id, record)
	h.respondJSON(w, http.StatusOK, record)
}

// ListSkipped returns the skip record of the last run.
func (h *Handlers) ListSkipped(w http.ResponseWriter, r *http.Request) {
	skipped, err := h.store.Skipped()
	if err != nil {
		h.logger.Error("failed to read skipped", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read skipped")
		return
	}

	h.respondJSON(w, http.StatusOK, skipped)
}

// ListProcessed returns every processed id.
func (h *Handlers) ListProcessed(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.Processed()
	if err != nil {
		h.logger.Error("failed to read processed ids", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read processed ids")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(ids),
		"ids":   ids,
	})
}

// Purge drops cached item records, e.g. after a new run was persisted.
func (h *Handlers) Purge() {
	h.items.Purge()
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
