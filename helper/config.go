package helper

import (
	"os"
	"path/filepath"
	"time"
)

type ControllerConfig struct {
	Address       string // listen address for the framed protocol
	AdminAddress  string // gin admin API, disabled when empty
	Quota         int64  // capacity assumed for a freshly registered chunk server
	MinorGrace    time.Duration
	MajorGrace    time.Duration
	EvictionSweep time.Duration
	Log           LogConfig
}

type ChunkServerConfig struct {
	Address           string // listen address, port 0 picks a free one
	AdvertiseHost     string // host part of the identity sent to the controller
	ControllerAddress string
	StorageRoot       string
	Quota             int64
	HeartbeatInterval time.Duration
	MajorEvery        int
	AdminAddress      string
	Log               LogConfig
}

type ClientConfig struct {
	ControllerAddress string
	DownloadDir       string
	Log               LogConfig
}

var (
	DefaultControllerConfig = ControllerConfig{
		Address:       Address("", CONTROLLER_PORT),
		Quota:         CHUNK_SERVER_QUOTA,
		MinorGrace:    MINOR_GRACE_PERIOD,
		MajorGrace:    MAJOR_GRACE_PERIOD,
		EvictionSweep: EVICTION_SWEEP,
		Log:           DefaultLogConfig,
	}

	DefaultChunkServerConfig = ChunkServerConfig{
		Address:           Address("", 0),
		AdvertiseHost:     DEFAULT_HOST,
		ControllerAddress: Address(DEFAULT_HOST, CONTROLLER_PORT),
		StorageRoot:       filepath.Join(os.TempDir(), "chunk-server"),
		Quota:             CHUNK_SERVER_QUOTA,
		HeartbeatInterval: HEARTBEAT_INTERVAL,
		MajorEvery:        MAJOR_EVERY,
		Log:               DefaultLogConfig,
	}

	DefaultClientConfig = ClientConfig{
		ControllerAddress: Address(DEFAULT_HOST, CONTROLLER_PORT),
		DownloadDir:       ".",
		Log:               DefaultLogConfig,
	}
)
