package handler

import (
	"log/slog"
	"net/http"

	"github.com/northbeam/binarb/internal/domain"
)

// MarketRegistry is the subset of registry.Registry the market handler needs.
type MarketRegistry interface {
	Get(marketID string) (domain.BinaryMarket, bool)
	Snapshot() []domain.BinaryMarket
}

// MarketHandler serves market-related HTTP endpoints, reading directly from
// the in-process market registry rather than a persisted store.
type MarketHandler struct {
	registry MarketRegistry
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the given registry.
func NewMarketHandler(registry MarketRegistry, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{registry: registry, logger: logger}
}

// listMarketsResponse wraps the list endpoint output.
type listMarketsResponse struct {
	Markets []domain.BinaryMarket `json:"markets"`
	Total   int                   `json:"total"`
}

// ListMarkets returns every market currently tracked by the registry.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.registry.Snapshot()
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}

	writeJSON(w, http.StatusOK, market)
}
