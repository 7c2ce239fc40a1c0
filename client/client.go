package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

// Client uploads and downloads whole files. It has to be registered with the
// controller before either.
type Client struct {
	config helper.ClientConfig
	log    zerolog.Logger

	mu       sync.RWMutex
	identity string
}

func New(config helper.ClientConfig, logger zerolog.Logger) *Client {
	if config.ControllerAddress == "" {
		config.ControllerAddress = helper.DefaultClientConfig.ControllerAddress
	}
	if config.DownloadDir == "" {
		config.DownloadDir = helper.DefaultClientConfig.DownloadDir
	}
	return &Client{config: config, log: logger}
}

// Identity is the local address of the registration connection, empty until
// Register succeeds.
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) ControllerAddress() string { return c.config.ControllerAddress }

func (c *Client) Register(ctx context.Context) error {
	conn, err := transport.Dial(ctx, c.config.ControllerAddress)
	if err != nil {
		return err
	}
	defer conn.Close()

	identity := conn.LocalAddr().String()
	reply, err := conn.Exchange(ctx, &models.RegisterRequest{Identity: identity, IsClient: true})
	if err != nil {
		return err
	}
	resp, ok := reply.(*models.RegisterResponse)
	if !ok {
		return fmt.Errorf("%w: register answered with %s", helper.ErrRequestFailed, reply.Type())
	}
	if resp.Status != models.SUCCESS {
		return fmt.Errorf("%w: %s", helper.ErrRequestFailed, resp.Info)
	}

	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
	c.log.Info().Str("identity", identity).Str("info", resp.Info).Msg("registered with controller")
	return nil
}

func (c *Client) Deregister(ctx context.Context) error {
	identity := c.Identity()
	if identity == "" {
		return helper.ErrNotRegistered
	}
	reply, err := transport.Request(ctx, c.config.ControllerAddress, &models.DeregisterRequest{Identity: identity})
	if err != nil {
		return err
	}
	if resp, ok := reply.(*models.DeregisterResponse); !ok || resp.Status != models.SUCCESS {
		return fmt.Errorf("%w: deregister %s", helper.ErrRequestFailed, identity)
	}

	c.mu.Lock()
	c.identity = ""
	c.mu.Unlock()
	c.log.Info().Str("identity", identity).Msg("deregistered from controller")
	return nil
}
