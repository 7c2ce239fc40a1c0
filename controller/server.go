package controller

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/transport"
)

// Server binds a Controller to its protocol port, the optional admin API and
// the eviction sweep.
type Server struct {
	controller *Controller
	transport  *transport.Server
	admin      *http.Server
	log        zerolog.Logger
}

func NewServer(config helper.ControllerConfig, logger zerolog.Logger, opts ...Option) (*Server, error) {
	controller := New(config, logger, opts...)
	listener, err := transport.Listen(config.Address, controller, logger)
	if err != nil {
		return nil, err
	}

	server := &Server{controller: controller, transport: listener, log: logger}
	if config.AdminAddress != "" {
		server.admin = &http.Server{
			Addr:              config.AdminAddress,
			Handler:           controller.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return server, nil
}

func (s *Server) Controller() *Controller { return s.controller }

func (s *Server) Addr() net.Addr { return s.transport.Addr() }

// Serve runs until ctx is cancelled or the protocol listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.controller.MonitorHeartbeats(ctx)
	}()

	if s.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info().Str("addr", s.admin.Addr).Msg("admin API listening")
			if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("admin API stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			s.admin.Shutdown(shutdownCtx)
		}()
	}

	err := s.transport.Serve(ctx)
	cancel()
	wg.Wait()
	return err
}

func (s *Server) Close() error {
	if s.admin != nil {
		s.admin.Close()
	}
	return s.transport.Close()
}
