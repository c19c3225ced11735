package handler

import (
	"net/http"

	"github.com/alanyoungcy/perpcore/internal/execution"
)

// KeeperStats is implemented by *execution.Keeper.
type KeeperStats interface {
	Stats() execution.KeeperStats
}

// StatusHandler serves the process mode, storage backend and keeper totals.
type StatusHandler struct {
	Mode    string
	Backend string
	keeper  KeeperStats
}

// NewStatusHandler creates a StatusHandler. keeper is nil in server-only
// mode.
func NewStatusHandler(mode, backend string, keeper KeeperStats) *StatusHandler {
	return &StatusHandler{Mode: mode, Backend: backend, keeper: keeper}
}

// GetStatus responds with the current mode, backend and keeper totals.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":    h.Mode,
		"backend": h.Backend,
	}
	if h.keeper != nil {
		body["keeper"] = h.keeper.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
