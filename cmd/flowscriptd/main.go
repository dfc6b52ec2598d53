package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/flowscript/cmd/flowscriptd/handlers"
	"github.com/lyzr/flowscript/common/bootstrap"
	"github.com/lyzr/flowscript/common/server"
)

// drainExecutions cancels every execution still running or paused in the
// manager's live table, so a process shutdown resolves them to "stopped"
// instead of abandoning their interpreter goroutines and pause tokens.
func drainExecutions(components *bootstrap.Components) server.Drain {
	return func(ctx context.Context) {
		for _, st := range components.Manager.List() {
			if st.EndedAt != nil {
				continue
			}
			if err := components.Manager.Cancel(st.ExecutionID); err != nil {
				components.Logger.Warn("failed to cancel execution during drain",
					"executionId", st.ExecutionID, "error", err)
			}
		}
	}
}

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "flowscriptd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap flowscriptd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)

	h := handlers.New(components.Manager, components.Logger)
	h.RegisterRoutes(e)

	startServer(e, components)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "flowscriptd",
		})
	})
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	srv := server.New("flowscriptd", port, e, components.Logger,
		server.WithDrain(drainExecutions(components)))

	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
