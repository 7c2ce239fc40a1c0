package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Controller
var (
	RegisteredChunkServers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dfs_controller_chunk_servers",
		Help: "Number of chunk servers currently registered",
	})

	RegisteredClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dfs_controller_clients",
		Help: "Number of clients currently registered",
	})

	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_controller_evictions_total",
		Help: "Chunk servers evicted after missing heartbeats",
	}, []string{"reason"})

	HeartbeatsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_controller_heartbeats_total",
		Help: "Heartbeats processed by the controller",
	}, []string{"kind"})

	Placements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_controller_placements_total",
		Help: "Upload placement decisions",
	}, []string{"result"})

	Routings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_controller_routings_total",
		Help: "Download routing decisions",
	}, []string{"result"})
)

// Chunk server
var (
	StoredBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dfs_chunkserver_stored_bytes",
		Help: "Bytes of chunk data held locally",
	}, []string{"server_id"})

	CorruptedChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dfs_chunkserver_corrupted_chunks",
		Help: "Chunks failing checksum verification in the last sweep",
	}, []string{"server_id"})

	ChunkOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_chunkserver_chunk_operations_total",
		Help: "Chunk store, fetch and forward operations",
	}, []string{"server_id", "operation", "result"})

	HeartbeatsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_chunkserver_heartbeats_total",
		Help: "Heartbeats sent to the controller",
	}, []string{"server_id", "kind", "result"})
)

// Client
var (
	FileUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_client_uploads_total",
		Help: "File uploads attempted by the client",
	}, []string{"result"})

	FileDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfs_client_downloads_total",
		Help: "File downloads attempted by the client",
	}, []string{"result"})

	ChunkFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dfs_client_chunk_fetch_duration_seconds",
		Help:    "Time to fetch one chunk from a chunk server",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	})
)
