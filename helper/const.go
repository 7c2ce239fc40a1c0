package helper

import "time"

const (
	DEFAULT_HOST = "127.0.0.1"

	CONTROLLER_PORT         = 45559
	CONTROLLER_ADMIN_PORT   = 8080
	CHUNK_SERVER_ADMIN_PORT = 8090

	CHUNK_SIZE         = 64 * 1024 // 64KiB
	REPLICATION_FACTOR = 3

	// every chunk server starts with this much space, the controller assumes the same
	// until the first major heartbeat says otherwise
	CHUNK_SERVER_QUOTA int64 = 1000000

	HEARTBEAT_INTERVAL = 15 * time.Second
	MAJOR_EVERY        = 8 // every 8th beat (120s) is a major heartbeat

	MINOR_GRACE_PERIOD = 20 * time.Second
	MAJOR_GRACE_PERIOD = 125 * time.Second
	EVICTION_SWEEP     = time.Second

	MAX_FRAME_SIZE = 16 * 1024 * 1024
)
