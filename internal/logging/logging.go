package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global logrus logger. Production deployments
// (HEARTH_ENV=production) get JSON output for log aggregation; everything
// else gets the human-readable text formatter at debug level.
func Init() {
	env := strings.ToLower(os.Getenv("HEARTH_ENV"))

	if env == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// Component returns a logger scoped to one component of the orchestrator.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// WithConversation attaches the conversation id every per-conversation
// code path should log with.
func WithConversation(log *logrus.Entry, configID int64) *logrus.Entry {
	return log.WithField("config_id", configID)
}
