package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/config"
)

// Options adjust how the application starts.
type Options struct {
	// ResetZones clears all stored zone definitions before starting and
	// skips restoring them from the controllers.
	ResetZones bool
}

// App runs the channels, the zone store and the control API of all
// configured controllers.
type App struct {
	cfg      *config.Config
	services *Services

	cancel   context.CancelFunc
	done     <-chan struct{}
	fatalMu  sync.Mutex
	fatalErr error
}

// New wires all services. Nothing connects to a controller before Start.
func New(cfg *config.Config, opts Options) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	if opts.ResetZones {
		log.Info().Msg("Clearing stored zone definitions (--reset-zones)")
		if err := services.ResetZones(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear zone definitions")
		}
	}

	return &App{cfg: cfg, services: services}, nil
}

// Run starts the application, blocks until ctx is done or a service fails
// and shuts down. It returns the failure that stopped it, if any.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.done
	if err := a.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	a.fatalMu.Lock()
	defer a.fatalMu.Unlock()
	return a.fatalErr
}

// Start connects to every controller and serves the API.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = ctx.Done()

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.fatalMu.Lock()
		if a.fatalErr == nil {
			a.fatalErr = err
		}
		a.fatalMu.Unlock()
		a.cancel()
	}

	if err := a.services.Start(ctx, onFatalError); err != nil {
		a.cancel()
		return err
	}

	for _, c := range a.services.Controllers {
		log.Info().
			Str("controller", c.Config.ID).
			Str("name", c.Config.Name).
			Str("address", c.Config.Address).
			Msg("Controller registered")
	}
	log.Info().Int("controllers", len(a.services.Controllers)).Msg("wledsync started")
	return nil
}

// Stop closes every channel and waits for the zone definitions to reach the
// controllers. Updates not yet acknowledged by a controller are lost.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.services.Controllers {
		if snap := c.Channel.Snapshot(); snap.Unconfirmed {
			log.Warn().
				Str("controller", c.Config.ID).
				Str("status", snap.Status.String()).
				Msg("Dropping updates not confirmed by the controller")
		}
	}
	return a.services.Stop()
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
