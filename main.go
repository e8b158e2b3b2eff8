package main

import (
	"os"

	"github.com/28Pollux28/zync/cmd"
	"github.com/28Pollux28/zync/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Secrets may live in a .env file next to the binary.
	_ = godotenv.Load()

	dev := os.Getenv("DEVELOPMENT")
	if dev == "true" {
		logger.Init(true)
	} else {
		logger.Init(false)
	}
	defer zap.L().Sync()
	cmd.Execute()
}
