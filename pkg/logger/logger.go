// Package logger builds the process-wide structured logger from config,
// the missing piece cmd/server/main.go has always expected to import.
package logger

import (
	"fmt"
	"os"

	"github.com/bhangun/wayang-inference/internal/config"
	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus.Logger from cfg: level parsed from
// cfg.Level, JSON or text formatter from cfg.Format, output to cfg.File
// when set or stderr (logrus's default) otherwise.
func NewLogger(cfg *config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json", "":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file %s: %w", cfg.File, err)
		}
		log.SetOutput(f)
	}

	return log, nil
}
