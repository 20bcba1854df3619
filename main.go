package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/app"
	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/logging"
)

func main() {
	cfg := loadConfig()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logging.Component(logger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	defer a.Close()

	// SIGHUP re-reads the schedule from the config file
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := a.ReloadSchedule(); err != nil {
					log.WithError(err).Warn("schedule reload failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("twitter-autobot starting")
	if err := a.Serve(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		a.Close()
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err == nil {
		return cfg
	}
	if os.IsNotExist(err) {
		// First run - create default config
		cfg = config.Default()
		if err := cfg.Save(); err != nil {
			logrus.WithError(err).Warn("could not save default config")
		} else {
			path, _ := config.ConfigPath()
			logrus.WithField("path", path).Info("created default config")
		}
		return cfg
	}
	logrus.WithError(err).Fatal("could not load config")
	return nil
}
