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
	"github.com/lyzr/flowscript/internal/registry"
)

// Components holds every initialized engine dependency a FlowScript binary
// needs: configuration, logging, the node registry, the restricted
// expression evaluator, the interpreter, the event bridge, and the
// execution manager built on top of them.
type Components struct {
	Config      *config.Config
	Logger      *logger.Logger
	Registry    *registry.Registry
	Evaluator   *expr.Evaluator
	Interpreter *interpreter.Interpreter
	Bridge      *bridge.Bridge
	Manager     *manager.Manager

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components. Should be called
// with defer after Setup().
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// addCleanup registers a cleanup function.
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
