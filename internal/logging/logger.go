package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
)

type Level int

const (
	LevelDebug Level = iota - 4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

type Config struct {
	Level  Level
	Format string // "json" or "text"
	Output io.Writer
}

type logger struct {
	slog   *slog.Logger
	config *Config
}

// Tokens, API keys and the generated short passwords must never reach logs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|auth)["\s]*[:=]["\s]*([^\s"&]+)`),
	regexp.MustCompile(`(?i)authorization:\s*mediabrowser\s+([^\r\n]+)`),
	regexp.MustCompile(`(?i)x-emby-token:\s*([^\s"&]+)`),
}

// FromEnv builds a Config from LOG_LEVEL and LOG_FORMAT.
func FromEnv() *Config {
	cfg := &Config{Level: LevelInfo, Format: "text", Output: os.Stdout}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.Level = LevelDebug
	case "warn":
		cfg.Level = LevelWarn
	case "error":
		cfg.Level = LevelError
	}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		cfg.Format = "json"
	}
	return cfg
}

// NewLogger creates a structured logger with the given configuration.
func NewLogger(config *Config) Logger {
	if config == nil {
		config = &Config{
			Level:  LevelInfo,
			Format: "text",
			Output: os.Stdout,
		}
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slog.Level(config.Level)}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &logger{slog: slog.New(handler), config: config}
}

func (l *logger) Debug(msg string, args ...any) {
	l.slog.Debug(l.sanitize(msg), l.sanitizeArgs(args)...)
}

func (l *logger) Info(msg string, args ...any) {
	l.slog.Info(l.sanitize(msg), l.sanitizeArgs(args)...)
}

func (l *logger) Warn(msg string, args ...any) {
	l.slog.Warn(l.sanitize(msg), l.sanitizeArgs(args)...)
}

func (l *logger) Error(msg string, args ...any) {
	l.slog.Error(l.sanitize(msg), l.sanitizeArgs(args)...)
}

func (l *logger) With(args ...any) Logger {
	return &logger{
		slog:   l.slog.With(l.sanitizeArgs(args)...),
		config: l.config,
	}
}

func (l *logger) sanitize(msg string) string {
	for _, pattern := range sensitivePatterns {
		msg = pattern.ReplaceAllStringFunc(msg, func(match string) string {
			parts := strings.SplitN(match, ":", 2)
			if len(parts) == 2 {
				return parts[0] + ": [REDACTED]"
			}
			parts = strings.SplitN(match, "=", 2)
			if len(parts) == 2 {
				return parts[0] + "=[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return msg
}

func (l *logger) sanitizeArgs(args []any) []any {
	sanitized := make([]any, len(args))
	for i, arg := range args {
		if str, ok := arg.(string); ok {
			sanitized[i] = l.sanitize(str)
		} else {
			sanitized[i] = arg
		}
	}
	return sanitized
}

// Global logger instance
var defaultLogger Logger

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	defaultLogger = l
}

// Default returns the default global logger
func Default() Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// Convenience functions using the default logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// FiberMiddleware returns Fiber middleware for request logging.
func FiberMiddleware(logger Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()

		logArgs := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.IP(),
		}
		msg := fmt.Sprintf("%s %s - %d", c.Method(), c.Path(), status)

		switch {
		case status >= 500:
			logger.Error(msg, logArgs...)
		case status >= 400:
			logger.Warn(msg, logArgs...)
		default:
			logger.Info(msg, logArgs...)
		}
		return err
	}
}
