// internal/notification/routes.go

package notification

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/servicelink/marketplace-backend/internal/auth"
)

// RegisterRoutes mounts the push token endpoints
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware *auth.Middleware) {
	api := router.PathPrefix("/api/v1/notifications").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return authMiddleware.Authenticate(next)
	})

	api.HandleFunc("/tokens", handler.RegisterPushToken).Methods("POST")
	api.HandleFunc("/tokens", handler.UnregisterPushToken).Methods("DELETE")
}
