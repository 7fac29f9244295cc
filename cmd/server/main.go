package main

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"faris/backend/internal/api"
	"faris/backend/internal/config"
	"faris/backend/internal/match"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logrus.Fatalf("load configuration: %v", err)
	}

	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		logrus.Fatalf("invalid log level %q: %v", settings.LogLevel, err)
	}
	logrus.SetLevel(level)
	if !settings.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	backend, err := api.NewBackend(settings)
	if err != nil {
		logrus.Fatalf("create model backend: %v", err)
	}

	cfg := api.Config{
		Settings:           settings,
		DBPath:             settings.DBPath,
		SilentDB:           !settings.Debug,
		DisablePersistence: settings.DisablePersistence,
		AllowedOrigins:     settings.AllowedOrigins,
	}
	backend.Apply(&cfg)

	if path := settings.LexiconPath; path != "" {
		lexicon, err := match.LoadLexicon(path)
		if err != nil {
			logrus.Fatalf("load lexicon: %v", err)
		}
		cfg.Lexicon = lexicon
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"model":   settings.Model.Name,
		"backend": settings.Model.BaseURL,
	}).Infof("starting faris backend on :%s", settings.Port)
	if err := router.Run(":" + settings.Port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
