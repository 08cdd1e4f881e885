package bootstrap

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/artpar/convey/config"
	"github.com/rs/zerolog"
)

// logOutput lets the log format change without rebuilding loggers that
// components already hold.
type logOutput struct {
	mu  sync.RWMutex
	out io.Writer
	w   io.Writer
}

func newLogOutput(out io.Writer, format string) *logOutput {
	o := &logOutput{out: out}
	o.SetFormat(format)
	return o
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.RLock()
	w := o.w
	o.mu.RUnlock()
	return w.Write(p)
}

// SetFormat switches between JSON and console output.
func (o *logOutput) SetFormat(format string) {
	var w io.Writer = o.out
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: o.out, TimeFormat: time.RFC3339}
	}
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}

// NewLogger builds the process logger from cfg and sets the global level.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	logger, _ := newLogger(os.Stdout, cfg)
	return logger
}

func newLogger(out io.Writer, cfg config.LoggingConfig) (zerolog.Logger, *logOutput) {
	applyLevel(cfg.Level)
	output := newLogOutput(out, cfg.Format)
	return zerolog.New(output).With().Timestamp().Logger(), output
}

func applyLevel(s string) {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
