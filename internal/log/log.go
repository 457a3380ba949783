// Package log provides the zerolog loggers of klingwallet. Logs go to stderr
// so command output on stdout stays clean.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Component loggers derive from it.
var Logger zerolog.Logger

// Component loggers.
var (
	Wallet  zerolog.Logger
	Keys    zerolog.Logger
	Sync    zerolog.Logger
	Tx      zerolog.Logger
	RPC     zerolog.Logger
	Storage zerolog.Logger
)

// levels are the names accepted in configuration.
var levels = map[string]zerolog.Level{
	"trace": zerolog.TraceLevel,
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

func init() {
	Logger = NewConsoleLogger(os.Stderr, "info")
	initComponentLoggers()
}

// Current output settings, kept so Close can drop the file.
var (
	logFile  *os.File
	curLevel = "info"
	curJSON  bool
)

// Init replaces the root logger and every component logger. With a file,
// entries are also appended to it as JSON regardless of jsonOutput. A file
// opened by an earlier Init is closed.
func Init(level string, jsonOutput bool, file string) error {
	var console io.Writer = os.Stderr
	if !jsonOutput {
		console = consoleWriter(os.Stderr)
	}

	out := console
	var f *os.File
	if file != "" {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(console, f)
	}

	Logger = newLogger(out, level)
	initComponentLoggers()
	curLevel, curJSON = level, jsonOutput

	prev := logFile
	logFile = f
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Close stops writing to the log file, if any, and closes it. Logging
// continues on stderr.
func Close() error {
	if logFile == nil {
		return nil
	}
	return Init(curLevel, curJSON, "")
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

// parseLevel maps a level name to zerolog, defaulting to info.
func parseLevel(level string) zerolog.Level {
	if lvl, ok := levels[level]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether level is a known level name.
func ValidLevel(level string) bool {
	_, ok := levels[level]
	return ok
}

func initComponentLoggers() {
	Wallet = WithComponent("wallet")
	Keys = WithComponent("keys")
	Sync = WithComponent("sync")
	Tx = WithComponent("tx")
	RPC = WithComponent("rpc")
	Storage = WithComponent("storage")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWallet returns a logger tagged with a wallet namespace.
func WithWallet(l zerolog.Logger, namespace string) zerolog.Logger {
	return l.With().Str("wallet", namespace).Logger()
}
