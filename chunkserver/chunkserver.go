package chunkserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/metrics"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

// ChunkServer stores chunks for the controller's placements, forwards them
// along replication chains and reports its state through heartbeats.
type ChunkServer struct {
	config    helper.ChunkServerConfig
	log       zerolog.Logger
	identity  string
	store     *Store
	transport *transport.Server
	forwarder *forwarder
	admin     *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NodeInfo backs the my-info command and GET /info.
type NodeInfo struct {
	Identity        string  `json:"identity"`
	Controller      string  `json:"controller"`
	StorageDir      string  `json:"storage_dir"`
	AvailableSpace  int64   `json:"available_space"`
	StoredBytes     int64   `json:"stored_bytes"`
	Files           int     `json:"files"`
	Chunks          int     `json:"chunks"`
	CorruptChunks   int     `json:"corrupt_chunks"`
	DiskTotal       uint64  `json:"disk_total"`
	DiskFree        uint64  `json:"disk_free"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
}

// New binds the listening socket so the identity (advertised host plus the
// bound port) is known before registration.
func New(config helper.ChunkServerConfig, logger zerolog.Logger) (*ChunkServer, error) {
	if config.Quota <= 0 {
		config.Quota = helper.CHUNK_SERVER_QUOTA
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = helper.HEARTBEAT_INTERVAL
	}
	if config.MajorEvery <= 0 {
		config.MajorEvery = helper.MAJOR_EVERY
	}
	if config.AdvertiseHost == "" {
		config.AdvertiseHost = helper.DEFAULT_HOST
	}

	cs := &ChunkServer{config: config}
	listener, err := transport.Listen(config.Address, cs, logger)
	if err != nil {
		return nil, err
	}
	port := listener.Addr().(*net.TCPAddr).Port
	cs.identity = helper.Address(config.AdvertiseHost, port)
	cs.log = logger.With().Str("server_id", cs.identity).Logger()
	cs.transport = listener
	cs.forwarder = newForwarder(cs.log)

	dir := filepath.Join(config.StorageRoot, url.PathEscape(config.AdvertiseHost+"_"+strconv.Itoa(port)))
	store, err := NewStore(dir, config.Quota)
	if err != nil {
		listener.Close()
		return nil, err
	}
	cs.store = store

	if config.AdminAddress != "" {
		cs.admin = &http.Server{
			Addr:              config.AdminAddress,
			Handler:           cs.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return cs, nil
}

func (cs *ChunkServer) Identity() string { return cs.identity }

func (cs *ChunkServer) Store() *Store { return cs.store }

// Start serves connections, registers with the controller and begins the
// heartbeat schedule. It returns once registration has succeeded.
func (cs *ChunkServer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		if err := cs.transport.Serve(ctx); err != nil {
			cs.log.Error().Err(err).Msg("transport stopped")
		}
	}()

	if err := cs.register(ctx); err != nil {
		cs.Close()
		return err
	}

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.runHeartbeats(ctx)
	}()

	if cs.admin != nil {
		cs.wg.Add(1)
		go func() {
			defer cs.wg.Done()
			cs.log.Info().Str("addr", cs.admin.Addr).Msg("admin API listening")
			if err := cs.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cs.log.Error().Err(err).Msg("admin API stopped")
			}
		}()
	}
	return nil
}

// register retries only the dial; a FAILURE answer from the controller is
// final.
func (cs *ChunkServer) register(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		conn, err := transport.Dial(ctx, cs.config.ControllerAddress)
		if err != nil {
			cs.log.Warn().Err(err).Msg("controller unreachable, retrying")
			return err
		}
		defer conn.Close()

		reply, err := conn.Exchange(ctx, &models.RegisterRequest{Identity: cs.identity})
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, ok := reply.(*models.RegisterResponse)
		if !ok {
			return backoff.Permanent(fmt.Errorf("%w: register answered with %s", helper.ErrRequestFailed, reply.Type()))
		}
		if resp.Status != models.SUCCESS {
			return backoff.Permanent(fmt.Errorf("%w: %s", helper.ErrRequestFailed, resp.Info))
		}
		cs.log.Info().Str("controller", cs.config.ControllerAddress).Str("info", resp.Info).Msg("registered")
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// Deregister asks the controller to forget this server and waits for the
// answer.
func (cs *ChunkServer) Deregister(ctx context.Context) error {
	reply, err := transport.Request(ctx, cs.config.ControllerAddress, &models.DeregisterRequest{Identity: cs.identity})
	if err != nil {
		return err
	}
	resp, ok := reply.(*models.DeregisterResponse)
	if !ok || resp.Status != models.SUCCESS {
		return fmt.Errorf("%w: deregister %s", helper.ErrRequestFailed, cs.identity)
	}
	cs.log.Info().Msg("deregistered")
	return nil
}

// Close stops heartbeats, the admin API and the accept loop.
func (cs *ChunkServer) Close() error {
	if cs.cancel != nil {
		cs.cancel()
	}
	if cs.admin != nil {
		cs.admin.Close()
	}
	// handlers have all returned once transport.Close does, so no forward
	// can be added to wg while it is waited on
	err := cs.transport.Close()
	cs.wg.Wait()
	return err
}

/* ============================================ MESSAGE HANDLING ===========================================*/

func (cs *ChunkServer) Handle(ctx context.Context, msg models.Message) models.Message {
	switch m := msg.(type) {
	case *models.Upload:
		cs.handleUpload(ctx, m)
		return nil

	case *models.DownloadChunkRequest:
		payload, ok := cs.store.FetchChunk(m.FileName, m.ChunkNumber)
		result := "success"
		if !ok {
			result = "not_found"
			payload = nil
			cs.log.Warn().Str("file", m.FileName).Int("chunk", m.ChunkNumber).Msg("requested chunk not available")
		}
		metrics.ChunkOperations.WithLabelValues(cs.identity, "fetch", result).Inc()
		return &models.DownloadChunkResponse{
			FileName:    m.FileName,
			ChunkNumber: m.ChunkNumber,
			Success:     ok,
			Payload:     payload,
		}

	case *models.RegisterRequest, *models.RegisterResponse, *models.DeregisterRequest, *models.DeregisterResponse,
		*models.UploadRequest, *models.UploadResponse, *models.DownloadRequest, *models.DownloadResponse,
		*models.DownloadChunkResponse, *models.MinorHeartbeat, *models.MajorHeartbeat:
		cs.log.Warn().Str("type", msg.Type().String()).Msg("chunk server ignores message")
		return nil
	}
	return nil
}

// handleUpload stores the chunk and forwards it down the remaining chain. A
// failed store is logged and the chunk is still forwarded.
func (cs *ChunkServer) handleUpload(ctx context.Context, upload *models.Upload) {
	if err := cs.store.StoreChunk(upload.FileName, upload.ChunkNumber, upload.Payload); err != nil {
		metrics.ChunkOperations.WithLabelValues(cs.identity, "store", "failure").Inc()
		cs.log.Error().Err(err).Str("file", upload.FileName).Int("chunk", upload.ChunkNumber).Msg("failed to store chunk")
	} else {
		metrics.ChunkOperations.WithLabelValues(cs.identity, "store", "success").Inc()
		metrics.StoredBytes.WithLabelValues(cs.identity).Set(float64(cs.store.StoredBytes()))
		cs.log.Debug().Str("file", upload.FileName).Int("chunk", upload.ChunkNumber).
			Int("total", upload.TotalChunks).Msg("stored chunk")
	}

	peer, rest, ok := nextHop(cs.identity, upload.Chain)
	if !ok {
		return
	}
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		if err := cs.forwarder.forward(ctx, peer, rest, upload); err != nil {
			metrics.ChunkOperations.WithLabelValues(cs.identity, "forward", "failure").Inc()
			cs.log.Error().Err(err).Str("peer", peer).Str("file", upload.FileName).
				Int("chunk", upload.ChunkNumber).Msg("failed to forward chunk")
			return
		}
		metrics.ChunkOperations.WithLabelValues(cs.identity, "forward", "success").Inc()
	}()
}

// Info summarises local storage and the disk it lives on.
func (cs *ChunkServer) Info(ctx context.Context) NodeInfo {
	files := cs.store.FileMap()
	chunks := 0
	for _, numbers := range files {
		chunks += len(numbers)
	}
	info := NodeInfo{
		Identity:       cs.identity,
		Controller:     cs.config.ControllerAddress,
		StorageDir:     cs.store.Dir(),
		AvailableSpace: cs.store.AvailableSpace(),
		StoredBytes:    cs.store.StoredBytes(),
		Files:          len(files),
		Chunks:         chunks,
		CorruptChunks:  len(cs.store.CorruptedChunks()),
	}
	if usage, err := disk.UsageWithContext(ctx, cs.store.Dir()); err == nil {
		info.DiskTotal = usage.Total
		info.DiskFree = usage.Free
		info.DiskUsedPercent = usage.UsedPercent
	} else {
		cs.log.Debug().Err(err).Msg("disk usage unavailable")
	}
	return info
}

// Remove deletes one chunk of fileName, or the whole file when chunkNumber is
// zero, and credits the freed bytes back to the quota. The controller keeps
// routing to this server until the next eviction.
func (cs *ChunkServer) Remove(fileName string, chunkNumber int) error {
	var err error
	if chunkNumber == 0 {
		err = cs.store.RemoveFile(fileName)
	} else {
		err = cs.store.RemoveChunk(fileName, chunkNumber)
	}
	if err != nil {
		metrics.ChunkOperations.WithLabelValues(cs.identity, "remove", "failure").Inc()
		return err
	}
	metrics.ChunkOperations.WithLabelValues(cs.identity, "remove", "success").Inc()
	metrics.StoredBytes.WithLabelValues(cs.identity).Set(float64(cs.store.StoredBytes()))
	cs.log.Info().Str("file", fileName).Int("chunk", chunkNumber).
		Int64("available", cs.store.AvailableSpace()).Msg("removed")
	return nil
}
