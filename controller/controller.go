package controller

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/metrics"
	"github.com/theritikchoure/logx"
)

// ChunkServerRecord is the controller's view of one chunk server. Capacity
// and the file index only change through heartbeats.
type ChunkServerRecord struct {
	Identity           string
	AvailableSpace     int64
	Files              map[string]map[int]struct{}
	LastMinorHeartbeat time.Time
	LastMajorHeartbeat time.Time
	RegisteredAt       time.Time
}

// ChunkServerInfo is a copy of a record safe to hand out of the lock.
type ChunkServerInfo struct {
	Identity           string           `json:"identity"`
	AvailableSpace     int64            `json:"available_space"`
	Files              map[string][]int `json:"files"`
	LastMinorHeartbeat time.Time        `json:"last_minor_heartbeat"`
	LastMajorHeartbeat time.Time        `json:"last_major_heartbeat"`
	Alive              bool             `json:"alive"`
}

var errEmptyIdentity = errors.New("[ERROR] Empty node identity")

type Controller struct {
	mu           sync.RWMutex
	chunkServers map[string]*ChunkServerRecord
	order        []string // registration order, placement and routing scan in this order
	clients      map[string]time.Time

	config helper.ControllerConfig
	log    zerolog.Logger
	now    func() time.Time
}

type Option func(*Controller)

// WithClock replaces time.Now, used to drive heartbeat expiry in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(config helper.ControllerConfig, logger zerolog.Logger, opts ...Option) *Controller {
	if config.Quota <= 0 {
		config.Quota = helper.CHUNK_SERVER_QUOTA
	}
	if config.MinorGrace <= 0 {
		config.MinorGrace = helper.MINOR_GRACE_PERIOD
	}
	if config.MajorGrace <= 0 {
		config.MajorGrace = helper.MAJOR_GRACE_PERIOD
	}
	if config.EvictionSweep <= 0 {
		config.EvictionSweep = helper.EVICTION_SWEEP
	}
	c := &Controller{
		chunkServers: make(map[string]*ChunkServerRecord),
		clients:      make(map[string]time.Time),
		config:       config,
		log:          logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

/* ============================================ MEMBERSHIP ===========================================*/

// Register adds a chunk server or a client. Registering an identity twice is
// refused whatever role it was first registered with.
func (c *Controller) Register(identity string, isClient bool) error {
	if identity == "" {
		return errEmptyIdentity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, isServer := c.chunkServers[identity]
	_, isKnownClient := c.clients[identity]
	if isServer || isKnownClient {
		c.log.Warn().Str("identity", identity).Msg("duplicate registration refused")
		return fmt.Errorf("%w: %s", helper.ErrAlreadyRegistered, identity)
	}

	now := c.now()
	if isClient {
		c.clients[identity] = now
		metrics.RegisteredClients.Set(float64(len(c.clients)))
		c.log.Info().Str("identity", identity).Msg("registered client")
		return nil
	}

	c.chunkServers[identity] = &ChunkServerRecord{
		Identity:           identity,
		AvailableSpace:     c.config.Quota,
		Files:              make(map[string]map[int]struct{}),
		LastMinorHeartbeat: now,
		LastMajorHeartbeat: now,
		RegisteredAt:       now,
	}
	c.order = append(c.order, identity)
	metrics.RegisteredChunkServers.Set(float64(len(c.chunkServers)))
	logx.Logf("Registered chunk server %s", logx.FGBLUE, logx.BGWHITE, identity)
	c.log.Info().Str("identity", identity).Int64("capacity", c.config.Quota).Msg("registered chunk server")
	return nil
}

// Deregister forgets a chunk server or client. The chunks held by a departing
// chunk server are not moved anywhere.
func (c *Controller) Deregister(identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chunkServers[identity]; ok {
		c.removeLocked(identity)
		c.log.Info().Str("identity", identity).Msg("deregistered chunk server")
		return nil
	}
	if _, ok := c.clients[identity]; ok {
		delete(c.clients, identity)
		metrics.RegisteredClients.Set(float64(len(c.clients)))
		c.log.Info().Str("identity", identity).Msg("deregistered client")
		return nil
	}
	return fmt.Errorf("%w: %s", helper.ErrNotRegistered, identity)
}

func (c *Controller) IsClient(identity string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.clients[identity]
	return ok
}

func (c *Controller) removeLocked(identity string) {
	delete(c.chunkServers, identity)
	for i, id := range c.order {
		if id == identity {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	metrics.RegisteredChunkServers.Set(float64(len(c.chunkServers)))
}

func (c *Controller) isLive(record *ChunkServerRecord, now time.Time) bool {
	return now.Sub(record.LastMinorHeartbeat) <= c.config.MinorGrace &&
		now.Sub(record.LastMajorHeartbeat) <= c.config.MajorGrace
}

/* ============================================ PLACEMENT & ROUTING ===========================================*/

// PlaceUpload picks up to REPLICATION_FACTOR live chunk servers whose last
// reported capacity covers fileSize, first fit in registration order. An
// empty result means the upload cannot be placed.
func (c *Controller) PlaceUpload(fileSize int64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	replicas := make([]string, 0, helper.REPLICATION_FACTOR)
	for _, identity := range c.order {
		record := c.chunkServers[identity]
		if !c.isLive(record, now) || record.AvailableSpace < fileSize {
			continue
		}
		replicas = append(replicas, identity)
		if len(replicas) == helper.REPLICATION_FACTOR {
			break
		}
	}

	if len(replicas) == 0 {
		metrics.Placements.WithLabelValues("failure").Inc()
		c.log.Warn().Int64("size", fileSize).Msg("no chunk server can hold the file")
	} else {
		metrics.Placements.WithLabelValues("success").Inc()
		c.log.Info().Int64("size", fileSize).Strs("replicas", replicas).Msg("placed upload")
	}
	return replicas
}

// RouteDownload maps live chunk servers to the chunk numbers the client should
// fetch from each. Every chunk number is given to the first server, in
// registration order, that reports it.
func (c *Controller) RouteDownload(fileName string) (map[string][]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	routes := make(map[string][]int)
	attributed := make(map[int]struct{})
	for _, identity := range c.order {
		record := c.chunkServers[identity]
		if !c.isLive(record, now) {
			continue
		}
		chunks, ok := record.Files[fileName]
		if !ok {
			continue
		}
		for _, n := range sortedChunks(chunks) {
			if _, taken := attributed[n]; taken {
				continue
			}
			attributed[n] = struct{}{}
			routes[identity] = append(routes[identity], n)
		}
	}

	if len(routes) == 0 {
		metrics.Routings.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", helper.ErrFileNotFound, fileName)
	}
	metrics.Routings.WithLabelValues("success").Inc()
	return routes, nil
}

/* ============================================ SNAPSHOTS ===========================================*/

func (c *Controller) ChunkServers() []ChunkServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	infos := make([]ChunkServerInfo, 0, len(c.order))
	for _, identity := range c.order {
		record := c.chunkServers[identity]
		files := make(map[string][]int, len(record.Files))
		for name, chunks := range record.Files {
			files[name] = sortedChunks(chunks)
		}
		infos = append(infos, ChunkServerInfo{
			Identity:           identity,
			AvailableSpace:     record.AvailableSpace,
			Files:              files,
			LastMinorHeartbeat: record.LastMinorHeartbeat,
			LastMajorHeartbeat: record.LastMajorHeartbeat,
			Alive:              c.isLive(record, now),
		})
	}
	return infos
}

func (c *Controller) Clients() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clients := make([]string, 0, len(c.clients))
	for identity := range c.clients {
		clients = append(clients, identity)
	}
	sort.Strings(clients)
	return clients
}

func sortedChunks(chunks map[int]struct{}) []int {
	numbers := make([]int, 0, len(chunks))
	for n := range chunks {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}
