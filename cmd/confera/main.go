package main

import (
	"log/slog"
	"os"

	"github.com/confera/confera/internal/logging"
)

func main() {
	// CLI logs stay quiet unless LOG_LEVEL asks for more
	logging.Init(os.Getenv("LOG_LEVEL"), slog.LevelError)
	Execute()
}
