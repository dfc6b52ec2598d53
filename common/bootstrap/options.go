package bootstrap

import (
	"github.com/lyzr/flowscript/common/config"
	"github.com/lyzr/flowscript/common/logger"
	"github.com/lyzr/flowscript/internal/registry"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	customLogger *logger.Logger
	customConfig *config.Config
	registerHook func(*registry.Registry)
}

// WithCustomLogger uses a custom logger instead of creating one.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithNodeRegistration runs a custom hook after the built-in nodes are
// registered, letting a binary add its own node implementations.
func WithNodeRegistration(hook func(*registry.Registry)) Option {
	return func(o *options) {
		o.registerHook = hook
	}
}

func defaultOptions() *options {
	return &options{}
}
