package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"recordhub-backend/internal/config"
	"recordhub-backend/internal/handlers"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	AuthHandler         *handlers.AuthHandler
	OAuthHandler        *handlers.OAuthHandler
	IntegrationsHandler *handlers.IntegrationsHandler
	RecordsHandler      *handlers.RecordsHandler
	Config              *config.Config
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)                 // Inject request ID into context
	r.Use(middleware.RealIP)                    // Use X-Forwarded-For or X-Real-IP
	r.Use(middleware.Logger)                    // Log requests
	r.Use(middleware.Recoverer)                 // Recover from panics, return 500
	r.Use(middleware.Timeout(60 * time.Second)) // Set a request timeout

	// --- CORS Configuration ---
	// Adjust AllowedOrigins for your frontend deployment(s)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*.vercel.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// --- Public Routes (No JWT Required) ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1/auth", func(r chi.Router) {
		if deps.AuthHandler == nil {
			panic("AuthHandler dependency is nil in router setup")
		}
		r.Post("/signup", deps.AuthHandler.HandleSignup)
		r.Post("/login", deps.AuthHandler.HandleLogin)
	})

	// --- Public OAuth Callback ---
	// Providers redirect the user's browser here; there is no JWT on that
	// request. The signed state (or the server-side pending authorization for
	// request-token providers) secures it.
	if deps.OAuthHandler != nil {
		r.Get("/v1/oauth/{provider}/callback", deps.OAuthHandler.HandleCallback)
	} else {
		log.Println("WARN: OAuthHandler dependency is nil, skipping /v1/oauth callback route.")
	}

	// --- Authenticated Routes (JWT Required) ---
	r.Route("/v1", func(r chi.Router) {
		// Apply JWT Authentication Middleware
		r.Use(JwtAuthMiddleware(deps.Config.JWTSecret))

		// --- Mount OAuth Initiation Routes ---
		if deps.OAuthHandler != nil {
			r.Post("/oauth/{provider}/initiate", deps.OAuthHandler.HandleInitiate)
		}

		// --- Mount Integration Routes ---
		if deps.IntegrationsHandler != nil {
			r.Route("/integrations", func(r chi.Router) {
				r.Get("/", deps.IntegrationsHandler.HandleListIntegrations)
				r.Get("/{integrationID}/status", deps.IntegrationsHandler.HandleGetStatus)
				r.Get("/{integrationID}/channels", deps.IntegrationsHandler.HandleListChannels)
				r.Post("/{integrationID}/refresh", deps.IntegrationsHandler.HandleRefreshTokens)
				r.Delete("/{integrationID}", deps.IntegrationsHandler.HandleDisconnect)
			})
			r.Route("/connections", func(r chi.Router) {
				r.Post("/", deps.IntegrationsHandler.HandleConnectChannel)
				r.Post("/{connectionID}/revalidate", deps.IntegrationsHandler.HandleRevalidateConnection)
				r.Delete("/{connectionID}", deps.IntegrationsHandler.HandleDisconnectChannel)
			})
		} else {
			log.Println("WARN: IntegrationsHandler dependency is nil, skipping /v1/integrations routes.")
		}

		// --- Mount Record Routes ---
		if deps.RecordsHandler != nil {
			r.Route("/records", func(r chi.Router) {
				r.Post("/", deps.RecordsHandler.HandleCreateRecord)
				r.Get("/", deps.RecordsHandler.HandleListRecords)
				r.Get("/{recordID}", deps.RecordsHandler.HandleGetRecord)
				r.Get("/{recordID}/connections", deps.RecordsHandler.HandleListConnections)
				r.Post("/{recordID}/notify", deps.RecordsHandler.HandleNotifyChange)
			})
		} else {
			log.Println("WARN: RecordsHandler dependency is nil, skipping /v1/records routes.")
		}
	})

	return r
}
