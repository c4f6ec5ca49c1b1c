package actions

import (
	"context"

	"go.uber.org/zap"

	"github.com/reactorhq/reactor/internal/engine"
)

// LogAction is the "log.info" action: emits a message through the shared
// zap logger at the requested level and echoes it back as step output so a
// workflow can bind it to a variable for later steps.
type LogAction struct {
	logger *zap.Logger
}

func NewLogAction(logger *zap.Logger) *LogAction {
	return &LogAction{logger: logger}
}

func (l *LogAction) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	message, ok := input["message"].(string)
	if !ok || message == "" {
		return nil, &engine.Failure{Kind: engine.KindUserError, Message: "message parameter is required"}
	}

	level := "info"
	if lvl, ok := input["level"].(string); ok {
		level = lvl
	}

	fields := make([]zap.Field, 0)
	if extraFields, ok := input["fields"].(map[string]interface{}); ok {
		for key, value := range extraFields {
			fields = append(fields, zap.Any(key, value))
		}
	}

	switch level {
	case "debug":
		l.logger.Debug(message, fields...)
	case "warn", "warning":
		l.logger.Warn(message, fields...)
	case "error":
		l.logger.Error(message, fields...)
	default:
		l.logger.Info(message, fields...)
	}

	return map[string]interface{}{
		"message": message,
		"level":   level,
		"success": true,
	}, nil
}
