// Package runtime builds the per-process context a plugin invocation runs
// in: the logger, the loaded configuration, and an invocation identity.
// The context is constructed once at process entry and threaded explicitly
// through the engine and plugin; nothing here is global.
package runtime

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattjoyce/searchplug/internal/config"
)

// Context carries everything an invocation needs from its environment.
type Context struct {
	Logger         *slog.Logger
	InvocationID   string
	AppRoot        string
	Config         *config.Config
	ConfigPath     string
	ConfigChecksum string
}

// New builds the process context. The app root is derived from the
// executable path (the host launches plugins from <app-root>/bin), the
// configuration is probed beneath it, and the logger writes JSON to stderr;
// stdout belongs to the protocol and must never see log output.
func New() *Context {
	appRoot := appRootFromArgv(os.Args[0])
	return NewAt(appRoot, os.Stderr)
}

// NewAt builds a context for an explicit app root and log sink. Tests and
// the chunkrun driver use this directly.
func NewAt(appRoot string, logSink io.Writer) *Context {
	result, err := config.Load(appRoot)
	if err != nil {
		// A broken config file must not stop negotiation; run on defaults
		// and say so once the logger exists.
		result = &config.Result{Config: config.Default()}
	}

	logger := slog.New(slog.NewJSONHandler(logSink, &slog.HandlerOptions{
		Level: slogLevel(result.Config.Logging.Level),
	}))
	invocationID := uuid.NewString()

	ctx := &Context{
		Logger:         logger.With(slog.String("invocation_id", invocationID)),
		InvocationID:   invocationID,
		AppRoot:        appRoot,
		Config:         result.Config,
		ConfigPath:     result.Path,
		ConfigChecksum: result.Checksum,
	}

	if err != nil {
		ctx.Logger.Warn("runtime config rejected, using defaults", "error", err)
	}
	if result.Path != "" {
		ctx.Logger.Debug("runtime config loaded",
			"path", result.Path, "blake3", result.Checksum)
	}
	return ctx
}

// Discard returns a context that logs nowhere, for tests.
func Discard() *Context {
	return NewAt("", io.Discard)
}

// appRootFromArgv maps <app-root>/bin/<plugin> to <app-root>.
func appRootFromArgv(argv0 string) string {
	abs, err := filepath.Abs(argv0)
	if err != nil {
		return "."
	}
	return filepath.Dir(filepath.Dir(abs))
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
