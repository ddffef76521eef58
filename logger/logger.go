// Package logger fornece logs estruturados para o glomail.
//
// Envolve o log/slog da biblioteca padrão com saída em console ou JSON,
// para stdout, stderr ou um arquivo:
//
//	logFile, err := logger.Initialize(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logFile.Close()
//
//	logger.Info("Servidor iniciado", "addr", addr)
//	connLog := logger.With("conn", id)
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/carloslauriano/glomail/config"
)

var globalLogger *slog.Logger

// Initialize configura o logger global. O arquivo retornado (se houver) deve ser fechado pelo chamador.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	var (
		logFile *os.File
		out     io.Writer
	)

	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("falha ao abrir arquivo de log %q: %w", cfg.Output, err)
		}
		logFile = f
		out = f
	}

	globalLogger = slog.New(newHandler(out, cfg.Format, parseLogLevel(cfg.Level)))
	slog.SetDefault(globalLogger)

	return logFile, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLogLevel converte o nível textual em slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get retorna o logger global
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// With retorna um logger com os atributos fornecidos
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
