package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowscript/common/config"
	"github.com/lyzr/flowscript/common/logger"
	"github.com/lyzr/flowscript/internal/registry"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "test", Port: 8080, LogLevel: "error", LogFormat: "json"},
		Engine:  config.EngineConfig{ExecutionTimeout: time.Second},
		Bridge:  config.BridgeConfig{LaneMaxBuffer: 16, EvictGrace: time.Millisecond},
	}
}

func TestSetup_BuildsACompleteComponentGraph(t *testing.T) {
	components, err := Setup(context.Background(), "flowscriptd", WithCustomConfig(testConfig()))
	require.NoError(t, err)

	assert.NotNil(t, components.Config)
	assert.NotNil(t, components.Logger)
	assert.NotNil(t, components.Registry)
	assert.NotNil(t, components.Evaluator)
	assert.NotNil(t, components.Interpreter)
	assert.NotNil(t, components.Bridge)
	assert.NotNil(t, components.Manager)

	_, ok := components.Registry.Lookup("increment")
	assert.True(t, ok, "built-in nodes must be registered by Setup")
}

func TestSetup_UsesCustomLoggerWhenProvided(t *testing.T) {
	custom := logger.New("error", "json")
	components, err := Setup(context.Background(), "flowscriptd", WithCustomConfig(testConfig()), WithCustomLogger(custom))
	require.NoError(t, err)
	assert.Same(t, custom, components.Logger)
}

func TestSetup_NodeRegistrationHookRunsAfterBuiltins(t *testing.T) {
	called := false
	hook := func(reg *registry.Registry) {
		called = true
		_, ok := reg.Lookup("increment")
		assert.True(t, ok, "built-ins must already be registered when the hook runs")
	}

	_, err := Setup(context.Background(), "flowscriptd", WithCustomConfig(testConfig()), WithNodeRegistration(hook))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMustSetup_PanicsOnInvalidConfig(t *testing.T) {
	bad := testConfig()
	bad.Service.Port = -1
	assert.Panics(t, func() {
		MustSetup(context.Background(), "flowscriptd", WithCustomConfig(bad))
	})
}

func TestShutdown_RunsCleanupFuncsInReverseOrder(t *testing.T) {
	components, err := Setup(context.Background(), "flowscriptd", WithCustomConfig(testConfig()))
	require.NoError(t, err)

	var order []int
	components.addCleanup(func() error { order = append(order, 1); return nil })
	components.addCleanup(func() error { order = append(order, 2); return nil })

	require.NoError(t, components.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}
