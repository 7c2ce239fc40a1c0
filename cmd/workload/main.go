package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/client"
	"github.com/sutd_chunkdfs/helper"
	"github.com/theritikchoure/logx"
)

const CHARACTERS = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789\n"

type Task struct {
	ID       int
	Filename string
	DataSize int
}

// Creates a byte array with random characters
func generateData(rng *rand.Rand, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = CHARACTERS[rng.Intn(len(CHARACTERS))]
	}
	return data
}

// runTask uploads a generated file from its own client, downloads it back and
// compares the bytes.
func runTask(ctx context.Context, config helper.ClientConfig, logger zerolog.Logger, task Task, data []byte) error {
	logx.Logf("[Client %d] Running...", logx.FGBLACK, logx.BGCYAN, task.ID)
	defer logx.Logf("[Client %d] Finished running...", logx.FGBLACK, logx.BGGREEN, task.ID)

	c := client.New(config, logger.With().Int("task", task.ID).Logger())
	if err := c.Register(ctx); err != nil {
		return err
	}
	defer c.Deregister(context.Background())

	if _, err := c.UploadBytes(ctx, task.Filename, data); err != nil {
		return fmt.Errorf("upload %s: %w", task.Filename, err)
	}
	// chunk servers announce new chunks on their next minor heartbeat
	result, err := waitForDownload(ctx, c, task.Filename, config.DownloadDir)
	if err != nil {
		return fmt.Errorf("download %s: %w", task.Filename, err)
	}
	if len(result.Missing) > 0 || !bytes.Equal(result.Data, data) {
		return fmt.Errorf("%s came back different: %d of %d bytes, missing chunks %v",
			task.Filename, len(result.Data), len(data), result.Missing)
	}
	return nil
}

// waitForDownload retries until the controller routes every chunk or the
// policy gives up.
func waitForDownload(ctx context.Context, c *client.Client, name, dir string) (*client.DownloadResult, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 2*helper.HEARTBEAT_INTERVAL + 5*time.Second

	var result *client.DownloadResult
	err := backoff.Retry(func() error {
		var err error
		result, err = c.Download(ctx, name, dir)
		if err != nil {
			return err
		}
		if len(result.Missing) > 0 {
			return fmt.Errorf("chunks %v not routed yet", result.Missing)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if result != nil {
		return result, nil
	}
	return nil, err
}

func main() {
	config := helper.DefaultClientConfig
	clients := flag.Int("clients", 3, "Number of concurrent clients")
	size := flag.Int("size", 2*helper.CHUNK_SIZE+1024, "Bytes per generated file")
	seed := flag.Int64("seed", 1, "Random seed for file contents")
	flag.StringVar(&config.ControllerAddress, "controller", config.ControllerAddress, "Controller address")
	flag.StringVar(&config.Log.Level, "log-level", config.Log.Level, "Log level")
	flag.Parse()

	logger, closer, err := helper.NewLogger(config.Log, "workload")
	if err != nil {
		fmt.Fprintln(os.Stderr, "[Workload] Error creating logger:", err)
		os.Exit(1)
	}
	defer closer.Close()

	dir, err := os.MkdirTemp("", "workload-")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create download dir")
	}
	defer os.RemoveAll(dir)
	config.DownloadDir = dir

	run := helper.NewSessionID()
	logger = logger.With().Str("run", run).Logger()
	rng := rand.New(rand.NewSource(*seed))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i := 1; i <= *clients; i++ {
		task := Task{ID: i, Filename: fmt.Sprintf("file%d-%s.txt", i, run[:8]), DataSize: *size}
		data := generateData(rng, task.DataSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runTask(context.Background(), config, logger, task, data); err != nil {
				logger.Error().Err(err).Int("task", task.ID).Msg("task failed")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	logger.Info().Int("clients", *clients).Int("failed", failed).Str("dir", filepath.Clean(dir)).Msg("workload finished")
	if failed > 0 {
		os.Exit(1)
	}
}
