package main

import (
	"github.com/joho/godotenv"

	"slackclaw/cmd"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cmd.Execute()
}
