package services

import (
	"context"
	"log/slog"

	"github.com/SscSPs/bank_posting_core/internal/platform/logger"
)

// BaseService provides common functionality for all services
type BaseService struct{}

// GetLogger gets the logger from context or returns the default one
func (s *BaseService) GetLogger(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx)
}

// LogError logs an error with consistent formatting
func (s *BaseService) LogError(ctx context.Context, err error, msg string, keyvals ...any) {
	args := make([]any, 0, len(keyvals)+1)
	args = append(args, slog.String("error", err.Error()))
	args = append(args, keyvals...)
	s.GetLogger(ctx).Error(msg, args...)
}

// LogInfo logs an info message with consistent formatting
func (s *BaseService) LogInfo(ctx context.Context, msg string, keyvals ...any) {
	s.GetLogger(ctx).Info(msg, keyvals...)
}

// LogDebug logs a debug message with consistent formatting
func (s *BaseService) LogDebug(ctx context.Context, msg string, keyvals ...any) {
	s.GetLogger(ctx).Debug(msg, keyvals...)
}
