// Package logger configures the leveled logging backend shared by every package.
//
// Packages grab their own module logger with logging.MustGetLogger("<pkg>"); Setup only decides
// where records go and which levels pass.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
)

// EnvLevel overrides the level passed to Setup.
const EnvLevel = "DUPLEX_LOG_LEVEL"

var log = logging.MustGetLogger("duplex")

var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{module:-9s} %{level:.4s} ▶ %{message}%{color:reset}`,
)

// Setup installs a stderr backend for all modules and returns the root logger.
func Setup(prefix string, defaultLevel logging.Level) *logging.Logger {
	return SetupWriter(os.Stderr, prefix, defaultLevel)
}

func SetupWriter(w io.Writer, prefix string, defaultLevel logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(w, prefix, 0)
	formatted := logging.NewBackendFormatter(backend, stderrFormat)
	leveled := logging.AddModuleLevel(formatted)
	// "" is the fallback for every module without its own level.
	leveled.SetLevel(LevelFromEnv(defaultLevel), "")
	logging.SetBackend(leveled)
	return log
}

// LevelFromEnv returns the level named by DUPLEX_LOG_LEVEL, or def when unset or unknown.
func LevelFromEnv(def logging.Level) logging.Level {
	name := strings.ToUpper(strings.TrimSpace(os.Getenv(EnvLevel)))
	if name == "" {
		return def
	}
	lvl, err := logging.LogLevel(name)
	if err != nil {
		return def
	}
	return lvl
}
