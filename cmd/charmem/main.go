package main

import (
	"github.com/joho/godotenv"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/cli"
)

// version, commit, date are injected by the linker via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A .env in the working directory may carry provider keys; it is optional.
	_ = godotenv.Load()
	cli.Execute(version, commit, date)
}
