package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-core/auth"
	"chat-core/moderation"
	"chat-core/notify"
	"chat-core/observability"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/runtime/workers"
	"chat-core/search"
	"chat-core/services"
	"chat-core/transport/ws"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for HTTP and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerPath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	//  Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Search index (Bluge)
	index, err := search.Open(config.SearchPath, log)
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 4. Repositories & moderation
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	userRepository := repositories.NewUserRepository(db)

	words := lo.Filter(strings.Split(config.ModerationWords, ","), func(w string, _ int) bool {
		return strings.TrimSpace(w) != ""
	})
	moderator, err := moderation.NewModerator(words, config.ModerationCharReplacement)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	// 5. Realtime components
	registry := runtime.NewSessionRegistry()
	presence := runtime.NewPresenceBroadcaster(registry, userRepository, log)
	router := runtime.NewRoomRouter()
	typing := runtime.NewTypingCoordinator(router, config.TypingTimeout, log)

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewCollector(promRegistry, registry.Connections, registry.OnlineUsers)

	dispatcher := notify.NewDispatcher(config.BacklogCap, config.BacklogTTL, metrics, log)
	delivery := services.NewDeliveryPipeline(
		messageRepository, userRepository, router, typing,
		dispatcher, moderator, index, metrics, log,
	)
	receipts := services.NewReceiptService(messageRepository, router, registry, log)

	authenticator := auth.NewAuthenticator(config.JwtSecret)
	server := ws.NewServer(
		authenticator, registry, presence, router, typing,
		delivery, receipts, dispatcher,
		ws.Config{
			SendBuffer:      config.SendBufferSize,
			EventsPerSecond: config.EventsPerSecond,
			EventBurst:      config.EventBurst,
		},
		log,
	)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Background workers under supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewBacklogSweepWorker(dispatcher, config.SweepInterval, log),
		workers.NewProcessStatsWorker(registry, config.StatsInterval, log),
	)
	go sup.Run(ctx)

	// 8. HTTP surface
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Handle("/ws", server)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux}

	// Use an error channel to capture ListenAndServe() issues
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 9. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 10. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
