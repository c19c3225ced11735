package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// MarketReader is the read side of the market repository.
type MarketReader interface {
	GetMarket(ctx context.Context, key common.Hash) (domain.Market, error)
}

// MarketHandler serves market snapshots.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given reader and logger.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logHandler(logger, "market")}
}

// GetMarket returns the stored snapshot of one market. Accumulators are as of
// the last update, without pending accrual.
// GET /api/markets/{key}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	key, ok := hashParam(r, "key")
	if !ok {
		writeError(w, http.StatusBadRequest, "market key must be a 0x-prefixed 32-byte hex string")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.String("market", key.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, newMarketView(m))
}
