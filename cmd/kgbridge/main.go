// Package main is the entry point for the kgbridge CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/flynn-ai/kgbridge/cmd/kgbridge/app"
)

func main() {
	// A missing .env is fine; the environment may already carry the keys.
	_ = godotenv.Load()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
