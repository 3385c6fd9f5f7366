package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/config"
	"github.com/zhouzirui/mdchat/backend/internal/handler/chat"
	"github.com/zhouzirui/mdchat/backend/internal/handler/page"
	"github.com/zhouzirui/mdchat/backend/internal/handler/render"
	"github.com/zhouzirui/mdchat/backend/internal/handler/stream"
	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	middlewarePkg "github.com/zhouzirui/mdchat/backend/internal/middleware"
	aiService "github.com/zhouzirui/mdchat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/mdchat/backend/internal/service/chat"
	"github.com/zhouzirui/mdchat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. aiSvc may be nil when no
// model provider is configured.
func NewRouter(cfg *config.Config, logger zerolog.Logger, chatSvc *chatService.Service, aiSvc *aiService.Service, renderer *markdown.Renderer) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(logger))
	r.Use(middlewarePkg.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middlewarePkg.SecurityHeaders)
	r.Use(middlewarePkg.MaxBodySize(cfg.Server.MaxBodyBytes))

	// Create handlers
	pageHandler, err := page.New(chatSvc, renderer, logger)
	if err != nil {
		return nil, err
	}
	chatHandler := chat.New(chatSvc, renderer)
	renderHandler := render.New(renderer)

	// a typed nil would defeat the handler's nil check
	var relay stream.Relayer
	if aiSvc != nil {
		relay = aiSvc
	}
	streamHandler := stream.New(chatSvc, renderer, relay, cfg.Chat.MaxDuration, logger)
	wsHandler := stream.NewWebSocketHandler(chatSvc, renderer, cfg.CORS.AllowedOrigins, logger)

	limiter := middlewarePkg.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)

	pageHandler.RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": chatSvc.Count(),
			"model":    aiSvc != nil,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		renderHandler.RegisterRoutes(api)

		// submits reach the model, so they share a per-IP budget
		api.Group(func(limited chi.Router) {
			limited.Use(limiter.Middleware)
			streamHandler.RegisterRoutes(limited)
			wsHandler.RegisterRoutes(limited)
		})
	})

	return r, nil
}
