// Command dubberd runs the dubbing daemon: queue dispatch, the processing
// pipeline, and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"dubber/internal/config"
	"dubber/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	development := flag.Bool("dev", false, "enable development logging")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel:    *logLevel,
		Development: *development,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
