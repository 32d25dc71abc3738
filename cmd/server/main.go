package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ecovision/resin-classifier/internal/cache"
	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/config"
	"github.com/ecovision/resin-classifier/internal/handlers"
	"github.com/ecovision/resin-classifier/internal/history"
	"github.com/ecovision/resin-classifier/internal/logger"
	"github.com/ecovision/resin-classifier/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("Failed to get working directory: %v", err)
	}
	cfg.ResolvePaths(workDir)

	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	log.WithField("path", cfg.ModelPath).Info("Loading model")
	modelServer, err := model.Load(model.DefaultTopology(), model.Options{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.OrtLibraryPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize model server: %v", err)
	}
	defer modelServer.Close()

	clf := classifier.New(modelServer, modelServer.Topology, classifier.WithMaxPixels(cfg.MaxImagePixels))

	opts := []handlers.Option{
		handlers.WithModelName(modelServer.Topology.Name),
		handlers.WithMaxBodyBytes(cfg.MaxBodyBytes),
	}

	if cfg.HistoryDBPath != "" {
		store, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			log.Fatalf("Failed to open history database: %v", err)
		}
		defer store.Close()
		opts = append(opts, handlers.WithHistory(store))
		log.WithField("path", cfg.HistoryDBPath).Info("Prediction history enabled")
	}

	if c := newCache(cfg, log); c != nil {
		if closer, ok := c.(io.Closer); ok {
			defer closer.Close()
		}
		opts = append(opts, handlers.WithCache(c))
	}

	handler := handlers.NewHandler(clf, log, opts...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"model":    cfg.ModelPath,
		"topology": modelServer.Topology.Name,
		"input":    modelServer.InputName(),
		"output":   modelServer.OutputName(),
	}).Info("Server starting")
	log.Println("Endpoints:")
	for _, r := range handlers.Routes {
		log.Printf("  %-4s %-15s - %s", r.Method, r.Path, r.Description)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited")
}

// newCache prefers redis when configured, then an in-process LRU. A
// zero CACHE_SIZE without redis disables caching.
func newCache(cfg *config.Config, log *logrus.Logger) cache.Cache {
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		if err == nil {
			log.WithField("addr", cfg.RedisAddr).Info("Using redis prediction cache")
			return c
		}
		log.WithError(err).Warn("Redis unavailable, falling back to in-memory cache")
	}

	if cfg.CacheSize <= 0 {
		return nil
	}
	c, err := cache.NewLRU(cfg.CacheSize)
	if err != nil {
		log.WithError(err).Warn("Prediction cache disabled")
		return nil
	}
	return c
}
