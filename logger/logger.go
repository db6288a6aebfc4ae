// Package logger
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Debug(msg string)

	WithStr(key, value string) Logger
	WithInt(key string, value int) Logger
	WithAny(key string, value any) Logger
}

type logger struct {
	base zerolog.Logger
}

// New returns a logger writing to a rotating file at path. Chat output
// owns stdout, so logs never go there unless Discard is replaced.
func New(path string) Logger {
	if path == "" {
		path = "./logs/lanchat.log"
	}

	logWriter := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}

	return &logger{
		base: zerolog.New(logWriter).
			With().
			Timestamp().
			Logger(),
	}
}

// Discard returns a logger that drops everything, for tests.
func Discard() Logger {
	return &logger{
		base: zerolog.New(io.Discard),
	}
}

func (l *logger) Info(msg string) {
	l.base.Info().Msg(msg)
}

func (l *logger) Warn(msg string) {
	l.base.Warn().Msg(msg)
}

func (l *logger) Error(msg string) {
	l.base.Error().Msg(msg)
}

func (l *logger) Fatal(msg string) {
	l.base.Fatal().Msg(msg)
}

func (l *logger) Debug(msg string) {
	l.base.Debug().Msg(msg)
}

func (l *logger) WithStr(key, value string) Logger {
	return &logger{base: l.base.With().Str(key, value).Logger()}
}

func (l *logger) WithInt(key string, value int) Logger {
	return &logger{base: l.base.With().Int(key, value).Logger()}
}

func (l *logger) WithAny(key string, value any) Logger {
	return &logger{base: l.base.With().Any(key, value).Logger()}
}

// LogPath resolves the default log file under the user's home dir.
func LogPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, "lanchat", "logs")

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	return filepath.Join(logDir, "lanchat.log"), nil
}
