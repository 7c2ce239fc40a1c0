package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/metrics"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

type DownloadResult struct {
	SessionID string
	FileName  string
	Path      string
	Data      []byte
	Chunks    int   // highest chunk number the controller routed
	Missing   []int // chunk numbers absent from Data
}

// Download asks the controller where the chunks of fileName live, fetches
// every routed chunk concurrently and writes the reassembled file into
// destDir. Chunks that could not be fetched leave a gap which is reported in
// Missing; the file is written regardless.
func (c *Client) Download(ctx context.Context, fileName, destDir string) (result *DownloadResult, err error) {
	defer func() {
		switch {
		case err != nil:
			metrics.FileDownloads.WithLabelValues("failure").Inc()
		case len(result.Missing) > 0:
			metrics.FileDownloads.WithLabelValues("partial").Inc()
		default:
			metrics.FileDownloads.WithLabelValues("success").Inc()
		}
	}()

	identity := c.Identity()
	if identity == "" {
		return nil, helper.ErrNotRegistered
	}
	if destDir == "" {
		destDir = c.config.DownloadDir
	}

	session := helper.NewSessionID()
	log := c.log.With().Str("session", session).Str("file", fileName).Logger()

	reply, err := transport.Request(ctx, c.config.ControllerAddress, &models.DownloadRequest{Client: identity, FileName: fileName})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*models.DownloadResponse)
	if !ok || resp.Status != models.SUCCESS || len(resp.ChunkServers) == 0 {
		return nil, fmt.Errorf("%w: %s", helper.ErrFileNotFound, fileName)
	}

	expected := 0
	for _, chunks := range resp.ChunkServers {
		for _, n := range chunks {
			expected = max(expected, n)
		}
	}

	var (
		mu    sync.Mutex
		parts = make(map[int][]byte, expected)
		wg    sync.WaitGroup
	)
	for server, chunks := range resp.ChunkServers {
		for _, n := range chunks {
			wg.Add(1)
			go func(server string, n int) {
				defer wg.Done()
				payload, err := c.fetchChunk(ctx, server, fileName, n)
				if err != nil {
					log.Warn().Err(err).Str("server", server).Int("chunk", n).Msg("chunk fetch failed")
					return
				}
				mu.Lock()
				parts[n] = payload
				mu.Unlock()
			}(server, n)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, missing := Reassemble(parts, expected)
	if len(missing) > 0 {
		log.Warn().Ints("missing", missing).Int("expected", expected).Msg("file reassembled with gaps")
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(destDir, filepath.Base(fileName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("chunks", expected).Int("bytes", len(data)).Msg("download complete")
	return &DownloadResult{
		SessionID: session,
		FileName:  fileName,
		Path:      path,
		Data:      data,
		Chunks:    expected,
		Missing:   missing,
	}, nil
}

func (c *Client) fetchChunk(ctx context.Context, server, fileName string, chunkNumber int) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.ChunkFetchDuration.Observe(time.Since(start).Seconds()) }()

	reply, err := transport.Request(ctx, server, &models.DownloadChunkRequest{FileName: fileName, ChunkNumber: chunkNumber})
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*models.DownloadChunkResponse)
	if !ok {
		return nil, fmt.Errorf("%w: chunk request answered with %s", helper.ErrRequestFailed, reply.Type())
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s chunk %d on %s", helper.ErrChunkNotFound, fileName, chunkNumber, server)
	}
	return resp.Payload, nil
}
