package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/internal/service"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// BotHandler handles bot roster endpoints.
type BotHandler struct {
	service *service.BotService
	logger  *logger.Logger
}

// NewBotHandler creates a new bot handler.
func NewBotHandler(svc *service.BotService, log *logger.Logger) *BotHandler {
	return &BotHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/admin/bots
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context(), queryInt(r, "page", 1), queryInt(r, "limit", 10))
	if err != nil {
		h.logger.Error("failed to list bots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/bots/:id
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to get bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Create handles POST /api/v1/admin/bots
func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.BotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.logger.Warn("failed to create bot", zap.Error(err))
		writeServiceError(w, err, "failed to create bot")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Update handles PUT /api/v1/admin/bots/:id
func (h *BotHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.BotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.service.Update(r.Context(), id, &req)
	if err != nil {
		h.logger.Warn("failed to update bot", zap.String("bot_id", id), zap.Error(err))
		writeServiceError(w, err, "failed to update bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Delete handles DELETE /api/v1/admin/bots/:id
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "failed to delete bot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
