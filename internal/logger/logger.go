// Package logger provides the two structured log sinks the bridge writes
// to: App for lifecycle/diagnostic events, Sock for per-call socket tracing.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// App and Sock are ready to use with sensible defaults (stdout only, info
// level) before Init is called, so early startup code never sees a nil
// logger.
var (
	App  = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Sock = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func shortTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.String("time", a.Value.Time().Format("15:04:05.000"))
	}
	return a
}

func newHandler(level slog.Level, writers []io.Writer) slog.Handler {
	return slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: shortTime,
	})
}

// Init wires App and Sock to the configured level, optionally tee'd to
// separate files (appLogFile and sockLogFile, either of which may be empty
// to skip the file sink).
func Init(level, appLogFile, sockLogFile string) error {
	lvl := parseLevel(level)

	appWriters := []io.Writer{os.Stdout}
	if appLogFile != "" {
		f, err := os.OpenFile(appLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		appWriters = append(appWriters, f)
	}
	App = slog.New(newHandler(lvl, appWriters))

	sockWriters := []io.Writer{os.Stdout}
	if sockLogFile != "" {
		f, err := os.OpenFile(sockLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		sockWriters = append(sockWriters, f)
	}
	Sock = slog.New(newHandler(lvl, sockWriters))

	slog.SetDefault(App)
	return nil
}
