// internal/messaging/routes.go

package messaging

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/servicelink/marketplace-backend/internal/auth"
)

// RegisterRoutes mounts the messaging endpoints. The websocket entry point
// stays outside the auth middleware: connections authenticate in-band with
// their first signal.
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware *auth.Middleware) {
	router.HandleFunc("/ws", handler.HandleWebSocket)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return authMiddleware.Authenticate(next)
	})

	api.HandleFunc("/conversations", handler.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations", handler.ListConversations).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}", handler.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", handler.ListMessages).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9]+}", handler.CloseConversation).Methods("DELETE")
	api.HandleFunc("/conversations/{id:[0-9]+}/read", handler.MarkRead).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/archive", handler.SetArchived(true)).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/unarchive", handler.SetArchived(false)).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/mute", handler.SetMuted(true)).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9]+}/unmute", handler.SetMuted(false)).Methods("POST")

	api.HandleFunc("/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}", handler.EditMessage).Methods("PUT")
	api.HandleFunc("/messages/{id:[0-9]+}", handler.DeleteMessage).Methods("DELETE")

	api.HandleFunc("/attachments", handler.UploadAttachment).Methods("POST")
	api.HandleFunc("/presence", handler.PresenceSnapshot).Methods("GET")
}
