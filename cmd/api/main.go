package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/mdchat/backend/internal/config"
	"github.com/zhouzirui/mdchat/backend/internal/handler"
	"github.com/zhouzirui/mdchat/backend/internal/logging"
	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	"github.com/zhouzirui/mdchat/backend/internal/service/ai"
	"github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	log.Logger = logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	// Initialize AI service
	aiService := newAIService(ctx, cfg, logger)

	var completer chat.Completer
	if aiService != nil {
		completer = aiService
	}
	chatService := chat.NewService(completer,
		chat.WithMaxDuration(cfg.Chat.MaxDuration),
		chat.WithSessionTTL(cfg.Chat.SessionTTL),
		chat.WithLogger(logger.With().Str("component", "chat").Logger()),
	)
	go chatService.RunJanitor(ctx, cfg.Chat.CleanupInterval)

	renderer := markdown.New(markdown.WithHighlightStyle(cfg.Render.HighlightStyle))

	router, err := handler.NewRouter(cfg, logger, chatService, aiService, renderer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	startServer(ctx, cfg.Server, router, logger)
}

func newAIService(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *ai.Service {
	if !cfg.AI.Enabled() {
		logger.Warn().Str("provider", cfg.AI.Provider).Msg("模型凭证未配置，跳过 AI 功能初始化")
		return nil
	}

	httpClient := &http.Client{Timeout: cfg.Chat.MaxDuration + 5*time.Second}
	chatModel, err := ai.NewChatModel(ctx, cfg.AI, httpClient)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize chat model, continuing without AI functionality")
		return nil
	}

	svc, err := ai.NewService(ctx, chatModel, cfg.AI.SystemPrompt)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize AI service, continuing without AI functionality")
		return nil
	}

	logger.Info().Str("provider", cfg.AI.Provider).Msg("AI service initialized successfully")
	return svc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: serverCfg.ReadHeaderTimeout,
		IdleTimeout:       serverCfg.IdleTimeout,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("mdchat backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
