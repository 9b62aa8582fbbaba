package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	global = zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
	closer io.Closer
)

// ParseLevel maps LOG_LEVEL values onto zerolog levels.
// Unknown values fall back to error, which is what production runs use.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Init configures the global logger from LOG_LEVEL and LOG_FILE.
// The terminal UI owns stdout, so logs go to stderr unless LOG_FILE is set.
func Init() error {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	var c io.Closer
	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w, c = f, f
	}

	Set(zerolog.New(w).Level(level).With().Timestamp().Logger())

	mu.Lock()
	closer = c
	mu.Unlock()
	return nil
}

// Set replaces the global logger.
func Set(l zerolog.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// L returns the global logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// For returns the global logger tagged with a component name.
func For(component string) zerolog.Logger {
	return L().With().Str("component", component).Logger()
}

// Close releases the log file opened by Init, if any.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
