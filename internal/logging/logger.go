package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Common field keys.
const (
	KeyUserID   = "user_id"
	KeyProvider = "provider"
	KeyTaskID   = "task_id"
	KeyEventID  = "event_id"
	KeyJob      = "job"
)

// New builds a zap logger. format is "json" for production output and
// "console" for human readable development output.
func New(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named("taskcal"), nil
}

// UserID returns the user id field.
func UserID(id string) zap.Field {
	return zap.String(KeyUserID, id)
}

// Provider returns the provider field.
func Provider(p fmt.Stringer) zap.Field {
	return zap.Stringer(KeyProvider, p)
}

// TaskID returns the task id field.
func TaskID(id string) zap.Field {
	return zap.String(KeyTaskID, id)
}

// EventID returns the remote event id field.
func EventID(id string) zap.Field {
	return zap.String(KeyEventID, id)
}

// RedactToken renders a token without exposing any of its content.
func RedactToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
