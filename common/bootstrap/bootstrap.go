// Package bootstrap assembles a FlowScript binary's component graph:
// config, logger, node registry, expression evaluator, interpreter, event
// bridge, and execution manager, initialized in dependency order with
// functional options so tests can inject their own config, logger, or
// extra node registrations.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/flowscript/common/config"
	"github.com/lyzr/flowscript/common/logger"
	"github.com/lyzr/flowscript/internal/bridge"
	"github.com/lyzr/flowscript/internal/expr"
	"github.com/lyzr/flowscript/internal/interpreter"
	"github.com/lyzr/flowscript/internal/manager"
	"github.com/lyzr/flowscript/internal/nodes"
	"github.com/lyzr/flowscript/internal/registry"
)

// Setup initializes all engine components for serviceName. This is the main
// entry point for every FlowScript binary.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		if err := options.customConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Build the restricted expression evaluator
	components.Evaluator, err = expr.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression evaluator: %w", err)
	}

	// 4. Build the node registry and register built-ins
	components.Registry = registry.New(components.Logger)
	nodes.RegisterBuiltins(components.Registry, components.Evaluator)
	if options.registerHook != nil {
		options.registerHook(components.Registry)
	}

	// 5. Build the interpreter
	components.Interpreter = interpreter.New(
		components.Registry,
		components.Logger,
		components.Config.Engine.ExecutionTimeout,
	)

	// 6. Build the event bridge
	components.Bridge = bridge.New(
		components.Config.Bridge.LaneMaxBuffer,
		components.Config.Bridge.EvictGrace,
		components.Logger,
	)

	// 7. Build the execution manager
	components.Manager = manager.New(
		components.Registry,
		components.Interpreter,
		components.Bridge,
		components.Logger,
	)

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"nodes", len(components.Registry.Names()),
	)

	return components, nil
}

// MustSetup is like Setup but panics on error. Useful for binaries that
// can't recover from initialization failure.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
