package handlers

import (
	"net/http"

	"github.com/watchroom/backend/internal/config"
	"github.com/watchroom/backend/internal/events"
	"github.com/watchroom/backend/internal/session"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// PublicConfig returns non-sensitive configuration for the frontend,
// including the protocol constants clients must honor.
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	// Only expose public, non-sensitive configuration
	response := map[string]interface{}{
		"driftThresholdSeconds": events.DriftThresholdSeconds,
		"chatHistoryLimit":      session.ChatHistoryLimit,
	}

	writeJSON(w, http.StatusOK, response)
}
