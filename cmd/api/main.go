// cmd/api/main.go

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/servicelink/marketplace-backend/internal/auth"
	"github.com/servicelink/marketplace-backend/internal/common/database"
	"github.com/servicelink/marketplace-backend/internal/common/logger"
	"github.com/servicelink/marketplace-backend/internal/common/utils"
	"github.com/servicelink/marketplace-backend/internal/config"
	"github.com/servicelink/marketplace-backend/internal/messaging"
	"github.com/servicelink/marketplace-backend/internal/notification"
)

func main() {
	// Load .env if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatalw("Failed to connect to database", "error", err)
	}
	defer db.Close()
	zlog.Info("Database connected")

	if err := runMigrations(db); err != nil {
		zlog.Fatalw("Failed to run migrations", "error", err)
	}
	zlog.Info("Migrations completed")

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	authMiddleware := auth.NewMiddleware(verifier)

	// Attachment storage
	var storage messaging.StorageService
	if cfg.UseS3 {
		storage, err = messaging.NewS3Storage(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.S3Bucket)
		if err != nil {
			zlog.Fatalw("Failed to initialize S3 storage", "error", err)
		}
		zlog.Infow("S3 attachment storage enabled", "bucket", cfg.S3Bucket)
	}

	// Notification providers
	contacts := notification.NewPostgresContactStore(db)
	dispatcher := buildDispatcher(cfg, contacts, zlog)

	service := messaging.NewService(messaging.NewPostgresRepository(db), dispatcher, storage, cfg.MaxMessageLength, zlog)

	// Presence backend and cross-instance fabric
	presence := messaging.NewMemoryRegistry()
	var fabric messaging.Fabric
	if cfg.PresenceBackend == "redis" {
		redisClient, err := database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			zlog.Fatalw("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()

		presence = messaging.NewRedisRegistry(redisClient, cfg.PresenceTTL, zlog)
		fabric = messaging.NewRedisFabric(redisClient, zlog)
		zlog.Info("Redis presence backend enabled")
	}

	hub := messaging.NewHub(presence, zlog)
	if fabric != nil {
		instanceID := cfg.InstanceID
		if instanceID == "" {
			instanceID = uuid.NewString()
		}
		hub.SetFabric(fabric, instanceID)
	}
	service.SetHub(hub)

	relay := messaging.NewRelay(hub, service, zlog)
	handler := messaging.NewHandler(service, hub, relay, verifier, storage, cfg.MaxAttachmentSize, zlog)

	router := mux.NewRouter()
	messaging.RegisterRoutes(router, handler, authMiddleware)
	notification.RegisterRoutes(router, notification.NewHandler(contacts, zlog), authMiddleware)

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.SuccessResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Infow("Server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("Server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Fatalw("Server forced to shutdown", "error", err)
	}

	zlog.Info("Server exited")
}

// buildDispatcher wires the configured notification providers, falling back
// to mocks outside production.
func buildDispatcher(cfg *config.Config, contacts notification.ContactStore, zlog *zap.SugaredLogger) notification.Dispatcher {
	var push notification.PushProvider
	if cfg.EnablePushNotifications {
		if cfg.FCMCredentialsFile != "" {
			p, err := notification.NewFCMProvider(context.Background(), cfg.FCMCredentialsFile)
			if err != nil {
				zlog.Warnw("Failed to initialize FCM, falling back to mock", "error", err)
				push = notification.NewMockPushProvider(zlog)
			} else {
				push = p
				zlog.Info("FCM push notifications enabled")
			}
		} else {
			push = notification.NewMockPushProvider(zlog)
		}
	}

	var email notification.EmailProvider
	if cfg.EnableEmailNotifications {
		switch cfg.EmailProvider {
		case "sendgrid":
			email = notification.NewSendGridProvider(cfg.SendGridAPIKey, cfg.EmailFrom)
			zlog.Info("SendGrid email notifications enabled")
		default:
			email = notification.NewMockEmailProvider(zlog)
		}
	}

	var sms notification.SMSProvider
	if cfg.EnableSMSNotifications {
		switch cfg.SMSProvider {
		case "twilio":
			sms = notification.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
			zlog.Info("Twilio SMS notifications enabled")
		default:
			sms = notification.NewMockSMSProvider(zlog)
		}
	}

	if push == nil && email == nil && sms == nil {
		return nil
	}
	return notification.NewDispatcher(contacts, push, email, sms, zlog)
}

// runMigrations creates the messaging tables if they don't exist
func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			service_id BIGINT,
			last_message_id BIGINT,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			unread_count INT NOT NULL DEFAULT 0,
			last_read_at TIMESTAMPTZ,
			is_archived BOOLEAN NOT NULL DEFAULT false,
			is_muted BOOLEAN NOT NULL DEFAULT false,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id BIGINT NOT NULL,
			receiver_id BIGINT NOT NULL,
			content TEXT NOT NULL,
			type VARCHAR(20) NOT NULL DEFAULT 'text',
			attachments JSONB,
			is_read BOOLEAN NOT NULL DEFAULT false,
			read_at TIMESTAMPTZ,
			is_edited BOOLEAN NOT NULL DEFAULT false,
			edited_at TIMESTAMPTZ,
			original_content TEXT,
			is_deleted BOOLEAN NOT NULL DEFAULT false,
			deleted_at TIMESTAMPTZ,
			deleted_by BIGINT,
			system_data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS push_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			platform VARCHAR(20) NOT NULL DEFAULT 'web',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, receiver_id) WHERE is_read = false`,
		`CREATE INDEX IF NOT EXISTS idx_push_tokens_user ON push_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_service ON conversations(service_id) WHERE service_id IS NOT NULL`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
