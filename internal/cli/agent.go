package cli

import (
	"context"
	"errors"

	"github.com/oxygenupdater/ota-agent/internal/service_registry"
)

func withApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

func appFrom(ctx context.Context) *App {
	if ctx == nil {
		return nil
	}
	app, _ := ctx.Value(appKey{}).(*App)
	return app
}

var errNoApp = errors.New("command needs a loaded config")

func requireApp(ctx context.Context) (*App, error) {
	app := appFrom(ctx)
	if app == nil {
		return nil, errNoApp
	}
	return app, nil
}

// buildAgent wires every component without starting any of them. One-shot
// commands never schedule update checks or publish status reports.
func buildAgent(app *App) (*service_registry.ServiceRegistry, *service_registry.Components, error) {
	config := *app.Config
	config.Services.UpdateCheck.Enabled = false
	config.Services.StatusReport.Enabled = false

	registry := app.Registry()
	components, err := registry.RegisterServices(&config)
	if err != nil {
		return nil, nil, err
	}
	return registry, components, nil
}

// startAgent builds the agent and starts the network monitor, work manager and
// download tracking so that a single command can check or download.
func startAgent(app *App) (*service_registry.ServiceRegistry, *service_registry.Components, error) {
	registry, components, err := buildAgent(app)
	if err != nil {
		return nil, nil, err
	}
	if err := registry.StartServices(); err != nil {
		return nil, nil, err
	}
	return registry, components, nil
}

func stopAgent(app *App, registry *service_registry.ServiceRegistry) {
	if err := registry.StopServices(); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to stop services")
	}
}
