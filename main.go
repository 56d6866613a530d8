package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/quickcull/cullingbackend/analysis"
	"github.com/quickcull/cullingbackend/config"
	"github.com/quickcull/cullingbackend/culling"
	"github.com/quickcull/cullingbackend/fsscan"
	"github.com/quickcull/cullingbackend/handlers"
	"github.com/quickcull/cullingbackend/realtime"
	"github.com/quickcull/cullingbackend/xmp"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	hub := realtime.NewHub()
	scanner := fsscan.NewScanner()
	sidecars := xmp.NewService()
	pipeline := analysis.NewDefaultPipeline()

	service := culling.NewService(cfg, scanner, sidecars, pipeline, hub)
	defer service.Close()

	if cfg.FolderPath != "" {
		log.Printf("Loading folder from configuration: %s", cfg.FolderPath)
		if err := service.LoadFolder(context.Background(), cfg.FolderPath, nil); err != nil {
			log.Fatalf("FATAL: Failed to load folder %s: %v", cfg.FolderPath, err)
		}
	}

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	cullingHandler := &handlers.CullingHandler{Service: service, Hub: hub}

	r.Route("/api", func(r chi.Router) {
		r.Route("/folder", func(r chi.Router) {
			r.Get("/", cullingHandler.GetFolder)
			r.Post("/load", cullingHandler.LoadFolder)
			r.Post("/refresh", cullingHandler.RefreshFolder)
		})

		r.Route("/images", func(r chi.Router) {
			r.Get("/", cullingHandler.ListImages)
			r.Route("/{filename}", func(r chi.Router) {
				r.Get("/", cullingHandler.GetImage)
				r.Post("/analyze", cullingHandler.AnalyzeImage)
				r.Put("/pick", cullingHandler.SetPick)
				r.Post("/refresh", cullingHandler.RefreshImage)
				r.Get("/validate", cullingHandler.ValidateImage)
			})
		})

		r.Post("/analyze", cullingHandler.AnalyzeAll)
		r.Get("/keepers", cullingHandler.Keepers)
		r.Get("/validate", cullingHandler.ValidateAll)
		r.Post("/repair", cullingHandler.RepairAll)
		r.Get("/events", cullingHandler.Events)

		r.Get(fmt.Sprintf("/%s/*", cfg.ThumbnailsSubDir), cullingHandler.ThumbnailServer(cfg.ThumbnailsSubDir))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	serverAddr := ":" + port
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("FATAL: Server error: %v", err)
	case sig := <-stop:
		log.Printf("Received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server shutdown: %v", err)
	}
}
