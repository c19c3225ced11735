package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// PositionReader is the read side of the trade store.
type PositionReader interface {
	OpenPosition(ctx context.Context, key common.Hash) (domain.Position, error)
	ListTrades(ctx context.Context, positionKey common.Hash) ([]domain.Trade, error)
}

// PositionHandler serves open positions and their execution logs.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given reader and
// logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logHandler(logger, "position")}
}

// GetPosition returns an open position.
// GET /api/positions/{key}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := hashParam(r, "key")
	if !ok {
		writeError(w, http.StatusBadRequest, "position key must be a 0x-prefixed 32-byte hex string")
		return
	}

	pos, err := h.positions.OpenPosition(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("position", key.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, newPositionView(pos))
}

// ListTrades returns the execution log of a position, including closed ones.
// GET /api/positions/{key}/trades
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	key, ok := hashParam(r, "key")
	if !ok {
		writeError(w, http.StatusBadRequest, "position key must be a 0x-prefixed 32-byte hex string")
		return
	}

	trades, err := h.positions.ListTrades(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("position", key.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeView, len(trades))
	for i, t := range trades {
		out[i] = newTradeView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}
