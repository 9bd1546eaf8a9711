package logs

import (
	"context"
	"fmt"
	"github.com/tebeka/atexit"
	"gopkg.in/natefinch/lumberjack.v2"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const Off = "Off"

var (
	once     sync.Once
	instance *slog.Logger
	levelVar = new(slog.LevelVar)
)

// GetLogger create a *slog.Logger instance, level: [Debug,Info,Warn,Error,Off].
// An empty filename logs to stderr only; alsoStdout tees the file sink to stdout.
func GetLogger(filename string, level string, alsoStdout bool) *slog.Logger {
	// "Off" is a special case for testing, it's not a valid slog.Level
	if strings.EqualFold(level, Off) {
		return slog.New(nopHandler{})
	}

	// GetLogger maybe called by both roles in one process.
	once.Do(func() {
		if err := SetLevel(level); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "log level:", err)
		}

		var sink io.Writer = os.Stderr
		if filename != "" {
			fileLogger := &lumberjack.Logger{
				Filename:   filename,
				MaxSize:    10,
				MaxBackups: 50,
				MaxAge:     30,
				Compress:   true,
			}
			atexit.Register(func() {
				_ = fileLogger.Close()
			})

			sink = fileLogger
			if alsoStdout {
				sink = io.MultiWriter(sink, os.Stdout)
			}
		}

		instance = slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{
			AddSource: true,
			Level:     levelVar,
		}))
	})

	return instance
}

// SetLevel changes the level of every logger returned by GetLogger.
func SetLevel(level string) error {
	return levelVar.UnmarshalText([]byte(level))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(nopHandler{})
}

// OrDiscard is used by constructors accepting an optional logger.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

type nopHandler struct{}

func (n nopHandler) Enabled(context.Context, slog.Level) bool {
	return false
}

func (n nopHandler) Handle(context.Context, slog.Record) error {
	return nil
}

func (n nopHandler) WithAttrs([]slog.Attr) slog.Handler {
	return n
}

func (n nopHandler) WithGroup(string) slog.Handler {
	return n
}
