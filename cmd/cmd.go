// Package cmd provides CLI commands for docfox.
//
// Commands:
//   - serve: HTTP API server with SSE chat streaming
//   - ingest: one-shot document ingestion from the terminal
//   - version: build and configuration info
//
// Signal handling and graceful shutdown are implemented for all
// commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/docfox/docfox/internal/log"
)

// Execute is the main entry point for the docfox CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ingest":
		return runIngest()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("docfox - documentation question answering over your own docs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  docfox serve [addr]                     Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  docfox ingest <path> [-collection name] Index a documentation tree")
	fmt.Println("  docfox version                          Show version information")
	fmt.Println("  docfox help                             Show this help")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  GEMINI_API_KEY   Gemini API key (required)")
	fmt.Println("  DEBUG            Enable debug logging")
}
