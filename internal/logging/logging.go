// Package logging builds the shared structured logger.
package logging

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// NewLogger creates a logrus logger configured from the service config.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
