package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

type logConfig struct {
	Debug   bool   `env:"AUDIBLEZ_DEBUG"`
	LogFile string `env:"AUDIBLEZ_LOGFILE"`
}

// setupLog configures the logger from the environment. The returned closer
// flushes the log file, when one is in use.
func setupLog() (func() error, error) {
	var cfg logConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing log config: %w", err)
	}

	log.SetOutput(os.Stderr)
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		if cfg.LogFile != "" {
			f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
			if err != nil {
				return nil, fmt.Errorf("error setting up log file: %w", err)
			}
			log.SetOutput(f)
			log.SetFormatter(log.TextFormatter)
			return f.Close, nil
		}
	}
	return func() error { return nil }, nil
}
