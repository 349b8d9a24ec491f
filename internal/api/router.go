package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/purestory/whisper-service/internal/config"
	"github.com/purestory/whisper-service/internal/media"
	"github.com/purestory/whisper-service/internal/storage/sqlite"
	"github.com/purestory/whisper-service/internal/transcription"
	"github.com/purestory/whisper-service/internal/websocket"
	"github.com/purestory/whisper-service/internal/whisper"
	"github.com/purestory/whisper-service/pkg/logger"
)

// Router wires the API handlers into an HTTP handler
type Router struct {
	handler *Handler
	static  *StaticFileHandler
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates a new router with all handlers attached
func NewRouter(manager *whisper.Manager, service *transcription.Service, store *media.Store, prober *media.Prober, storage *sqlite.Storage, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(manager, service, store, prober, storage, wsServer, cfg, log),
		static:  NewStaticFileHandler(cfg.Server.StaticFilesDir, log),
		config:  cfg,
		logger:  log.Named("router"),
	}
}

// Routes builds the route tree. API routes are registered first; anything
// unmatched falls through to the static file handler serving the web client.
func (r *Router) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(corsMiddleware(r.config.Server.CORSAllowedOrigins))

	mux.Get("/status", r.handler.GetStatus)
	mux.Get("/models", r.handler.GetModels)
	mux.Get("/usage", r.handler.GetUsage)
	mux.Post("/transcribe", r.handler.Transcribe)
	mux.Post("/change_model", r.handler.ChangeModel)
	mux.Post("/download", r.handler.Download)
	mux.Get("/ws", r.handler.HandleWebSocket)

	mux.NotFound(r.static.ServeHTTP)

	return mux
}

// corsMiddleware applies the configured CORS policy and answers preflight
// requests before they reach a handler.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			origin := req.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}

			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
