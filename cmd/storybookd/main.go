// Command storybookd runs the storybook daemon: the HTTP API, the work
// queue and the maintenance sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"storybook/internal/config"
	"storybook/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	envFile := flag.String("env-file", "", "Load provider credentials from this .env file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	if err := run(*configPath, *envFile, *logLevel); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, envFile, logLevel string) error {
	if err := loadEnv(envFile); err != nil {
		return err
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: logLevel})
}

func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
