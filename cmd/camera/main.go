package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ecovision/resin-classifier/internal/camera"
	"github.com/ecovision/resin-classifier/internal/capture"
	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/config"
	"github.com/ecovision/resin-classifier/internal/history"
	"github.com/ecovision/resin-classifier/internal/logger"
	"github.com/ecovision/resin-classifier/internal/model"
	"github.com/ecovision/resin-classifier/internal/policy"
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

	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode reports how the session ended. A stream that stops after the
// device opened is a normal shutdown.
func exitCode(log *logrus.Logger, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, capture.ErrStreamEnded):
		log.Warnf("Camera stream ended: %v", err)
		return 0
	case errors.Is(err, capture.ErrDevice):
		log.Errorf("Camera unavailable: %v", err)
		log.Error("Check that the device is connected and CAMERA_DEVICE points at it")
		return 1
	default:
		log.Errorf("Camera session failed: %v", err)
		return 1
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	log.WithField("path", cfg.ModelPath).Info("Loading model")
	modelServer, err := model.Load(model.DefaultTopology(), model.Options{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.OrtLibraryPath,
	})
	if err != nil {
		return err
	}
	defer modelServer.Close()

	p := policy.Policy{
		PresenceThreshold:   cfg.PresenceThreshold,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	}
	session := camera.NewSession(p, classifier.New(modelServer, modelServer.Topology), log)

	if cfg.HistoryDBPath != "" {
		store, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		session.WithRecorder(store)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := &capture.Loop{DeviceID: cfg.CameraDevice, Session: session, Log: log}
	return loop.Run(ctx)
}
