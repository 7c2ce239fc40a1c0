package controller

import (
	"context"
	"time"

	"github.com/sutd_chunkdfs/metrics"
	"github.com/sutd_chunkdfs/models"
	"github.com/theritikchoure/logx"
)

// HandleMinorHeartbeat refreshes liveness and merges newly stored chunks into
// the file index. A server that reports after the minor grace period is
// evicted instead of refreshed.
func (c *Controller) HandleMinorHeartbeat(hb *models.MinorHeartbeat) {
	metrics.HeartbeatsReceived.WithLabelValues("minor").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.chunkServers[hb.Identity]
	if !ok {
		c.log.Warn().Str("identity", hb.Identity).Msg("minor heartbeat from unknown chunk server")
		return
	}
	now := c.now()
	if now.Sub(record.LastMinorHeartbeat) > c.config.MinorGrace {
		c.evictLocked(hb.Identity, "minor")
		return
	}
	record.LastMinorHeartbeat = now

	if hb.CorruptFound {
		for _, ref := range hb.CorruptedChunks {
			c.log.Warn().Str("identity", hb.Identity).Str("chunk", ref.String()).Msg("chunk server reports corruption")
		}
	}
	for _, ref := range hb.AddedChunks {
		addChunk(record, ref.FileName, ref.ChunkNumber)
	}
}

// HandleMajorHeartbeat refreshes liveness, overwrites the capacity estimate
// and adds any files or chunks the controller did not know about. Knowledge
// is only ever added; chunks missing from the report are kept.
func (c *Controller) HandleMajorHeartbeat(hb *models.MajorHeartbeat) {
	metrics.HeartbeatsReceived.WithLabelValues("major").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.chunkServers[hb.Identity]
	if !ok {
		c.log.Warn().Str("identity", hb.Identity).Msg("major heartbeat from unknown chunk server")
		return
	}
	now := c.now()
	if now.Sub(record.LastMajorHeartbeat) > c.config.MajorGrace {
		c.evictLocked(hb.Identity, "major")
		return
	}
	// a major heartbeat stands in for the minor one of the same tick
	record.LastMajorHeartbeat = now
	record.LastMinorHeartbeat = now
	record.AvailableSpace = hb.AvailableSpace

	if hb.CorruptFound {
		for _, ref := range hb.CorruptedChunks {
			c.log.Warn().Str("identity", hb.Identity).Str("chunk", ref.String()).Msg("chunk server reports corruption")
		}
	}
	for fileName, chunks := range hb.Files {
		for _, n := range chunks {
			addChunk(record, fileName, n)
		}
	}
}

// EvictExpired removes every chunk server that has missed either grace
// period and returns their identities.
func (c *Controller) EvictExpired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var evicted []string
	for _, identity := range append([]string(nil), c.order...) {
		record := c.chunkServers[identity]
		switch {
		case now.Sub(record.LastMinorHeartbeat) > c.config.MinorGrace:
			c.evictLocked(identity, "minor")
		case now.Sub(record.LastMajorHeartbeat) > c.config.MajorGrace:
			c.evictLocked(identity, "major")
		default:
			continue
		}
		evicted = append(evicted, identity)
	}
	return evicted
}

// MonitorHeartbeats sweeps for expired chunk servers until ctx is done.
func (c *Controller) MonitorHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(c.config.EvictionSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

func (c *Controller) evictLocked(identity, reason string) {
	c.removeLocked(identity)
	metrics.Evictions.WithLabelValues(reason).Inc()
	logx.Logf("Evicted chunk server %s (%s heartbeat overdue)", logx.FGBLACK, logx.BGCYAN, identity, reason)
	c.log.Warn().Str("identity", identity).Str("reason", reason).Msg("evicted chunk server")
}

func addChunk(record *ChunkServerRecord, fileName string, chunkNumber int) {
	chunks, ok := record.Files[fileName]
	if !ok {
		chunks = make(map[int]struct{})
		record.Files[fileName] = chunks
	}
	chunks[chunkNumber] = struct{}{}
}
