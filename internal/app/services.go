package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/api"
	"github.com/dokzlo13/wledsync/internal/channel"
	"github.com/dokzlo13/wledsync/internal/config"
	"github.com/dokzlo13/wledsync/internal/db"
	"github.com/dokzlo13/wledsync/internal/segstore"
	"github.com/dokzlo13/wledsync/internal/storage/kv"
	"github.com/dokzlo13/wledsync/internal/wled"
)

// Controller bundles everything wired for one WLED controller.
type Controller struct {
	Config  config.ControllerConfig
	Device  *wled.Device
	Channel *channel.Channel
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB *db.DB
	KV *kv.Manager

	// Controllers in configuration order
	Controllers []*Controller
	byID        map[string]*Controller

	// Zone definitions
	Syncer *segstore.Syncer
	Zones  *segstore.Store

	API *APIService

	skipPull   bool
	syncerDone chan struct{}
	wg         sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{
		cfg:        cfg,
		byID:       make(map[string]*Controller),
		syncerDone: make(chan struct{}),
	}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.KV = kv.NewManager(database.DB)

	controllers := append([]config.ControllerConfig(nil), cfg.Controllers...)
	if cfg.Discovery.Enabled {
		controllers = append(controllers, s.discover(controllers)...)
	}
	if len(controllers) == 0 {
		s.Close()
		return nil, errors.New("no controllers configured")
	}

	streamCfg := wled.StreamConfig{
		MinBackoff:    cfg.Reconnect.MinBackoff.Duration(),
		MaxBackoff:    cfg.Reconnect.MaxBackoff.Duration(),
		Multiplier:    cfg.Reconnect.Multiplier,
		MaxReconnects: cfg.Reconnect.MaxReconnects,
	}
	channelCfg := channel.Config{
		CoalesceInterval: cfg.Channel.CoalesceInterval.Duration(),
		RateLimit:        cfg.Channel.RateLimitRPS,
		RequestTimeout:   cfg.Channel.RequestTimeout.Duration(),
	}
	for _, cc := range controllers {
		device := wled.NewDevice(cc.Address, cfg.Channel.RequestTimeout.Duration(), streamCfg)
		ctrl := &Controller{
			Config:  cc,
			Device:  device,
			Channel: channel.New(cc.ID, device, channelCfg),
		}
		s.Controllers = append(s.Controllers, ctrl)
		s.byID[cc.ID] = ctrl
	}

	// Zone definitions live in the local bucket and are mirrored to a file
	// on each controller
	s.Syncer = segstore.NewSyncer(s.resolveRemote, cfg.Segments.RemotePath, cfg.Segments.SyncDebounce.Duration())
	s.Zones = segstore.New(s.KV.Bucket(cfg.Segments.Bucket, true), s.Syncer)

	apiControllers := make([]*api.Controller, 0, len(s.Controllers))
	for _, c := range s.Controllers {
		apiControllers = append(apiControllers, &api.Controller{
			ID:      c.Config.ID,
			Name:    c.Config.Name,
			Address: c.Config.Address,
			Channel: c.Channel,
		})
	}
	s.API = NewAPIService(cfg, api.NewServer(cfg.API.Host, cfg.API.Port, apiControllers, s.Zones))

	return s, nil
}

// discover adds controllers found via mDNS that are not configured yet.
func (s *Services) discover(known []config.ControllerConfig) []config.ControllerConfig {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Discovery.Timeout.Duration()+time.Second)
	defer cancel()

	found, err := wled.Discover(ctx, s.cfg.Discovery.Timeout.Duration())
	if err != nil {
		log.Warn().Err(err).Msg("Controller discovery failed")
	}

	ids := make(map[string]bool, len(known))
	addrs := make(map[string]bool, len(known))
	for _, k := range known {
		ids[k.ID] = true
		addrs[k.Address] = true
	}

	var added []config.ControllerConfig
	for _, d := range found {
		addr := d.Address()
		if addrs[addr] {
			continue
		}
		id := d.Name
		if id == "" || ids[id] {
			id = addr
		}
		ids[id] = true
		addrs[addr] = true
		added = append(added, config.ControllerConfig{ID: id, Address: addr, Name: d.Name})
		log.Info().Str("controller", id).Str("address", addr).Msg("Discovered controller")
	}
	return added
}

func (s *Services) resolveRemote(controllerID string) (segstore.RemoteFiles, bool) {
	c, ok := s.byID[controllerID]
	if !ok {
		return nil, false
	}
	return c.Device, true
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., the API cannot listen).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	for _, c := range s.Controllers {
		c.Channel.Start(ctx)
	}

	go func() {
		defer close(s.syncerDone)
		if err := s.Syncer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Zone syncer error")
		}
	}()

	if !s.skipPull {
		for _, c := range s.Controllers {
			s.wg.Add(1)
			go func(id string) {
				defer s.wg.Done()
				s.pullZones(ctx, id)
			}(c.Config.ID)
		}
	}

	s.API.Start(ctx, onFatalError)
	return nil
}

// pullZones restores zone definitions from the controller when none are
// stored locally. The controller may still be unreachable at startup, so
// this retries a few times.
func (s *Services) pullZones(ctx context.Context, controllerID string) {
	backoff := time.Second
	for attempt := 0; attempt < 5; attempt++ {
		pullCtx, cancel := context.WithTimeout(ctx, s.cfg.Channel.RequestTimeout.Duration())
		restored, err := s.Zones.Pull(pullCtx, controllerID)
		cancel()
		if err == nil {
			if !restored {
				log.Debug().Str("controller", controllerID).Msg("No zones to restore")
			}
			return
		}

		log.Debug().Err(err).Str("controller", controllerID).Int("attempt", attempt+1).Msg("Failed to pull zones")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	log.Warn().Str("controller", controllerID).Msg("Giving up restoring zones from controller")
}

// ResetZones clears the zones of every configured controller and of any
// controller that only has stored definitions left, and skips restoring them
// from the controllers on this start.
func (s *Services) ResetZones() error {
	s.skipPull = true

	ids := make([]string, 0, len(s.Controllers))
	seen := make(map[string]bool, len(s.Controllers))
	for _, c := range s.Controllers {
		ids = append(ids, c.Config.ID)
		seen[c.Config.ID] = true
	}
	stored, err := s.Zones.Controllers()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list stored zone definitions")
	}
	for _, id := range stored {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	var errs []error
	for _, id := range ids {
		if err := s.Zones.Reset(id); err != nil {
			errs = append(errs, fmt.Errorf("controller %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	for _, c := range s.Controllers {
		c.Channel.Close()
	}
	s.wg.Wait()

	// The syncer makes one last write attempt once the context is done
	select {
	case <-s.syncerDone:
	case <-time.After(s.cfg.ShutdownTimeout.Duration()):
		log.Warn().Int("pending", s.Syncer.Pending()).Msg("Zone syncer did not finish in time")
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	for _, c := range s.Controllers {
		c.Device.Client.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
