package main

import (
	"scanner/cmd/scanner/cmd"
	"scanner/internal/config"
	"scanner/internal/logger"
)

func main() {
	cfg := config.Get()
	logger.Init(cfg.App.LogLevel)
	cmd.Execute()
}
