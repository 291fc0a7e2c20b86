package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/api"
	"github.com/dokzlo13/wledsync/internal/config"
)

// APIService wraps the control API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, server *api.Server) *APIService {
	return &APIService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("Control API disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()
}
