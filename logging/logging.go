// Package logging wires the substrate's structured-logging surface onto
// logiface, with stumpy as the default JSON backend. eventloop, transport,
// and bus all log through a *Logger rather than the standard log package.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is a generified logiface logger: every package in this module logs
// through this type so the backend (stumpy, or a mock in tests) stays an
// implementation detail of construction.
type Logger = logiface.Logger[logiface.Event]

// Category field keys, applied via Builder.Str("category", ...) at each call
// site rather than baked into child loggers, keeping a single shared Logger
// per process.
const (
	CategoryEventLoop = "eventloop"
	CategoryTransport = "transport"
	CategoryBus       = "bus"
)

type config struct {
	writer io.Writer
	level  logiface.Level
}

// Option configures a Logger constructed via New.
type Option func(*config)

// WithWriter sets the destination for encoded log lines, defaulting to
// os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithLevel sets the minimum enabled level, defaulting to Informational.
func WithLevel(level logiface.Level) Option {
	return func(c *config) { c.level = level }
}

// New constructs a Logger backed by stumpy's JSON writer.
func New(opts ...Option) *Logger {
	cfg := config{
		writer: os.Stderr,
		level:  logiface.LevelInformational,
	}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(cfg.writer)),
		stumpy.L.WithLevel(cfg.level),
	).Logger()
}

var noop = logiface.New[logiface.Event]()

// NoOp returns a disabled Logger, the default for components constructed
// without an explicit WithLogger option.
func NoOp() *Logger { return noop }
