package eventloop

import "github.com/murphy-substrate/core/logging"

type config struct {
	defaultTrigger TriggerMode
	logger         *logging.Logger
	metrics        bool
}

// Option configures a Loop at construction time.
type Option func(*config)

// WithDefaultTriggerMode records a per-loop default trigger mode. AddIoWatch
// takes an explicit TriggerMode for every watch and does not consult this
// recorded default.
func WithDefaultTriggerMode(mode TriggerMode) Option {
	return func(c *config) { c.defaultTrigger = mode }
}

// WithLogger attaches a structured logger; nil (the default) uses a no-op
// logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics enables tick-latency/queue-depth metrics collection.
func WithMetrics(enabled bool) Option {
	return func(c *config) { c.metrics = enabled }
}

func resolveOptions(opts []Option) *config {
	cfg := &config{defaultTrigger: LevelTriggered}
	for _, o := range opts {
		if o != nil {
			o(cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logging.NoOp()
	}
	return cfg
}
