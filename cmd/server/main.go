package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence-diary-server/internal/config"
	"cadence-diary-server/internal/handler"
	"cadence-diary-server/internal/matcher"
	"cadence-diary-server/internal/middleware"
	"cadence-diary-server/internal/repository"
	"cadence-diary-server/internal/service"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		logger.Fatal("failed to connect to CouchDB", zap.Error(err))
	}

	for _, name := range []string{cfg.Database.Name, cfg.Database.SessionsName} {
		if err := ensureDB(client, name); err != nil {
			logger.Fatal("failed to prepare database", zap.String("db", name), zap.Error(err))
		}
	}

	userRepo := repository.NewUserRepository(client, cfg.Database.Name)
	noteRepo := repository.NewNoteRepository(client, cfg.Database.Name)
	sessionRepo := repository.NewSessionRepository(client, cfg.Database.SessionsName)

	if err := noteRepo.EnsureIndexes(context.Background()); err != nil {
		logger.Fatal("failed to create note indexes", zap.Error(err))
	}

	matcherClient := matcher.NewClient(
		cfg.Matcher.BaseURL,
		cfg.Matcher.APIKey,
		cfg.Matcher.APISecret,
		cfg.Matcher.Timeout,
	)

	authService := service.NewAuthService(userRepo, sessionRepo, matcherClient, cfg.Matcher.MinScore, logger)
	noteService := service.NewNoteService(
		userRepo,
		noteRepo,
		sessionRepo,
		matcherClient,
		cfg.Matcher.MinScore,
		cfg.Auth.MinFirstNoteLength,
		cfg.Notes.PageSize,
		logger,
	)

	authHandler := handler.NewAuthHandler(authService)
	noteHandler := handler.NewNoteHandler(noteService)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware(logger))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.SessionMiddleware(sessionRepo, cfg.Auth.TokenSecret, cfg.Auth.SessionTTL, logger))

	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")
	api.HandleFunc("/auth/create-account", authHandler.CreateAccount).Methods("POST")
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST")

	api.HandleFunc("/notes/authenticate", noteHandler.Authenticate).Methods("POST")
	api.HandleFunc("/notes", noteHandler.List).Methods("GET")
	api.HandleFunc("/notes", noteHandler.Save).Methods("PUT")

	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting cadence diary server",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.String("couchdb", fmt.Sprintf("%s:%s", cfg.Database.Host, cfg.Database.Port)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func ensureDB(client *kivik.Client, name string) error {
	exists, err := client.DBExists(context.Background(), name)
	if err != nil {
		return err
	}
	if !exists {
		return client.CreateDB(context.Background(), name)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"cadence-diary-server"}`))
}
