// internal/notification/handlers.go

package notification

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/servicelink/marketplace-backend/internal/auth"
	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

type Handler struct {
	contacts ContactStore
	logger   *zap.SugaredLogger
}

// NewHandler creates the push token handler
func NewHandler(contacts ContactStore, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		contacts: contacts,
		logger:   logger,
	}
}

type registerTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android web"`
}

// RegisterPushToken stores a device token for the authenticated user
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Platform == "" {
		req.Platform = "web"
	}

	if err := h.contacts.SavePushToken(r.Context(), userID, req.Token, req.Platform); err != nil {
		h.logger.Errorw("failed to save push token", "user_id", userID, "error", err)
		utils.ErrorResponse(w, "Failed to register token", http.StatusInternalServerError)
		return
	}

	utils.MessageResponse(w, "Token registered", http.StatusOK)
}

// UnregisterPushToken removes a device token for the authenticated user
func (h *Handler) UnregisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		utils.ErrorResponse(w, "Token is required", http.StatusBadRequest)
		return
	}

	if err := h.contacts.DeletePushToken(r.Context(), userID, req.Token); err != nil {
		h.logger.Errorw("failed to delete push token", "user_id", userID, "error", err)
		utils.ErrorResponse(w, "Failed to unregister token", http.StatusInternalServerError)
		return
	}

	utils.MessageResponse(w, "Token unregistered", http.StatusOK)
}
