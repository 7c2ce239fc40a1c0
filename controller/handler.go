package controller

import (
	"context"
	"errors"

	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
)

const (
	REGISTRATION_SUCCESSFUL = "Registration successful"
	PREVIOUSLY_REGISTERED   = "Node had previously registered"
)

// Handle dispatches one message received on the controller's port.
// Heartbeats get no reply.
func (c *Controller) Handle(ctx context.Context, msg models.Message) models.Message {
	switch m := msg.(type) {
	case *models.RegisterRequest:
		err := c.Register(m.Identity, m.IsClient)
		switch {
		case err == nil:
			return &models.RegisterResponse{Status: models.SUCCESS, Info: REGISTRATION_SUCCESSFUL}
		case errors.Is(err, helper.ErrAlreadyRegistered):
			return &models.RegisterResponse{Status: models.FAILURE, Info: PREVIOUSLY_REGISTERED}
		default:
			return &models.RegisterResponse{Status: models.FAILURE, Info: err.Error()}
		}

	case *models.DeregisterRequest:
		if err := c.Deregister(m.Identity); err != nil {
			return &models.DeregisterResponse{Status: models.FAILURE}
		}
		return &models.DeregisterResponse{Status: models.SUCCESS}

	case *models.MinorHeartbeat:
		c.HandleMinorHeartbeat(m)
		return nil

	case *models.MajorHeartbeat:
		c.HandleMajorHeartbeat(m)
		return nil

	case *models.UploadRequest:
		if !c.IsClient(m.Client) {
			c.log.Warn().Str("client", m.Client).Str("file", m.FileName).Msg("upload request from unregistered client")
			return &models.UploadResponse{Status: models.FAILURE}
		}
		replicas := c.PlaceUpload(m.FileSize)
		if len(replicas) == 0 {
			return &models.UploadResponse{Status: models.FAILURE}
		}
		return &models.UploadResponse{Status: models.SUCCESS, ChunkServers: replicas}

	case *models.DownloadRequest:
		if !c.IsClient(m.Client) {
			c.log.Warn().Str("client", m.Client).Str("file", m.FileName).Msg("download request from unregistered client")
			return &models.DownloadResponse{Status: models.FAILURE, FileName: m.FileName}
		}
		routes, err := c.RouteDownload(m.FileName)
		if err != nil {
			c.log.Info().Err(err).Str("client", m.Client).Msg("download refused")
			return &models.DownloadResponse{Status: models.FAILURE, FileName: m.FileName}
		}
		return &models.DownloadResponse{Status: models.SUCCESS, FileName: m.FileName, ChunkServers: routes}

	case *models.RegisterResponse, *models.DeregisterResponse, *models.UploadResponse,
		*models.DownloadResponse, *models.Upload, *models.DownloadChunkRequest, *models.DownloadChunkResponse:
		c.log.Warn().Str("type", msg.Type().String()).Msg("controller ignores message")
		return nil
	}
	return nil
}
