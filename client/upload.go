package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/metrics"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

type UploadResult struct {
	SessionID    string
	FileName     string
	Size         int64
	Chunks       int
	ChunkServers []string
}

// Upload stores the file at filePath under its base name.
func (c *Client) Upload(ctx context.Context, filePath string) (*UploadResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	return c.UploadBytes(ctx, filepath.Base(filePath), data)
}

// UploadBytes asks the controller for a replica chain and pushes every chunk,
// in order, to the head of the chain over one connection. The chunk servers
// forward along the rest of the chain themselves.
func (c *Client) UploadBytes(ctx context.Context, fileName string, data []byte) (result *UploadResult, err error) {
	defer func() {
		if err != nil {
			metrics.FileUploads.WithLabelValues("failure").Inc()
		} else {
			metrics.FileUploads.WithLabelValues("success").Inc()
		}
	}()

	identity := c.Identity()
	if identity == "" {
		return nil, helper.ErrNotRegistered
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", helper.ErrEmptyFile, fileName)
	}

	session := helper.NewSessionID()
	log := c.log.With().Str("session", session).Str("file", fileName).Logger()

	reply, err := transport.Request(ctx, c.config.ControllerAddress, &models.UploadRequest{
		Client:   identity,
		FileSize: int64(len(data)),
		FileName: fileName,
	})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*models.UploadResponse)
	if !ok || resp.Status != models.SUCCESS || len(resp.ChunkServers) == 0 {
		log.Warn().Int("size", len(data)).Msg("controller could not place the file")
		return nil, fmt.Errorf("%w: %s", helper.ErrPlacementFailed, fileName)
	}
	replicas := resp.ChunkServers
	chain := replicas[1:]

	chunks := SplitChunks(data)
	conn, err := transport.Dial(ctx, replicas[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	for i, chunk := range chunks {
		err := conn.Send(&models.Upload{
			FileName:    fileName,
			ChunkNumber: i + 1,
			TotalChunks: len(chunks),
			Chain:       chain,
			Payload:     chunk,
		})
		if err != nil {
			return nil, fmt.Errorf("push chunk %d of %s: %w", i+1, fileName, err)
		}
		log.Debug().Int("chunk", i+1).Str("to", replicas[0]).Str("payload", helper.TruncateOutput(chunk)).Msg("pushed chunk")
	}

	log.Info().Int("chunks", len(chunks)).Strs("replicas", replicas).Msg("upload complete")
	return &UploadResult{
		SessionID:    session,
		FileName:     fileName,
		Size:         int64(len(data)),
		Chunks:       len(chunks),
		ChunkServers: replicas,
	}, nil
}
