package main

import (
	"context"

	"github.com/joho/godotenv"

	"personaproxy/internal/app"
	"personaproxy/pkg/config"
	"personaproxy/pkg/logger"
	"personaproxy/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		logger.Init()
		shutdown.Abort("config file parse failed", err, "", 0)
	}
	envCfg, _ := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg)
	if err != nil {
		logger.Init()
		shutdown.Abort("config resolution failed", err, "", 0)
	}

	if lvl := eff.Config.Logging.Level; lvl != "" {
		logger.InitWithLevel(lvl)
	} else {
		logger.Init()
	}
	defer logger.Sync()

	a, err := app.New(eff, nil, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, eff.DBPath, 0)
	}
}
