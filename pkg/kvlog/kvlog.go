// Package kvlog provides the structured, leveled logger shared by every
// long-lived component of the cluster (nodes, gateway, bootstrap tooling).
package kvlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init configures it; components
// should derive scoped loggers from it with WithComponent rather than
// logging through the package-level Logger directly.
var Logger zerolog.Logger

// Level is a typed log level accepted by Init, mirroring the zerolog levels
// we actually use.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init's output format and verbosity.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init sets up the global logger. Call it once, at process start.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the owning component,
// e.g. kvlog.WithComponent("node").Info().Str("node_id", id).Msg("listening").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNode returns a child logger tagged with both component and node_id,
// the pairing almost every node-side log line needs.
func WithNode(component, nodeID string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("node_id", nodeID).Logger()
}

func init() {
	// Sensible default so packages that log before cmd/*'s Init runs (e.g.
	// in tests) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}
