package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/lo"

	"tradechat-backend/internal/config"
	"tradechat-backend/internal/handlers"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	ConversationHandler *handlers.ConversationHandler
	HealthHandler       *handlers.HealthHandler
	Realtime            http.HandlerFunc // Websocket upgrade endpoint
	Config              *config.Config
	Logger              *slog.Logger
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	r := chi.NewRouter()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)  // Inject request ID into context
	r.Use(middleware.RealIP)     // Use X-Forwarded-For or X-Real-IP
	r.Use(RequestLogger(logger)) // Structured access log
	r.Use(middleware.Recoverer)  // Recover from panics, return 500

	// --- CORS Configuration ---
	// Credentials are only allowed for an explicit origin list; with "*" the
	// cors handler would reflect any caller's origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: !lo.Contains(deps.Config.AllowedOrigins, "*"),
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	if deps.HealthHandler != nil {
		r.Get("/health", deps.HealthHandler.HandleHealth)
	}

	// Long-lived connections stay outside the request timeout.
	if deps.Realtime != nil {
		r.Get("/ws", deps.Realtime)
	} else {
		logger.Warn("realtime dependency is nil, skipping /ws route")
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second)) // Set a request timeout

		// --- Mount Conversation Routes ---
		if deps.ConversationHandler != nil {
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", deps.ConversationHandler.HandleCreateConversation)
				r.Get("/", deps.ConversationHandler.HandleListConversations)
				r.Get("/{conversationID}", deps.ConversationHandler.HandleGetConversation)

				// Message APIs
				r.Post("/{conversationID}/messages", deps.ConversationHandler.HandleAppendMessage)
			})
		} else {
			logger.Warn("ConversationHandler dependency is nil, skipping /v1/conversations routes")
		}
	})

	return r
}
