package chunkserver

import (
	"context"
	"time"

	"github.com/sutd_chunkdfs/metrics"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

// runHeartbeats beats immediately and then on a fixed rate. Every tick sweeps
// checksums; tick 0 and every MajorEvery-th tick after it is a major beat.
func (cs *ChunkServer) runHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(cs.config.HeartbeatInterval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		cs.beat(ctx, tick%cs.config.MajorEvery == 0)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (cs *ChunkServer) beat(ctx context.Context, major bool) {
	corrupted := cs.store.ChecksumSweep()
	metrics.CorruptedChunks.WithLabelValues(cs.identity).Set(float64(len(corrupted)))
	for _, ref := range corrupted {
		cs.log.Warn().Str("chunk", ref.String()).Msg("checksum mismatch")
	}

	msg := cs.heartbeat(major, corrupted)
	kind := "minor"
	if major {
		kind = "major"
	}
	if err := transport.Notify(ctx, cs.config.ControllerAddress, msg); err != nil {
		if ctx.Err() == nil {
			metrics.HeartbeatsSent.WithLabelValues(cs.identity, kind, "failure").Inc()
			cs.log.Error().Err(err).Str("kind", kind).Msg("failed to send heartbeat")
		}
		return
	}
	metrics.HeartbeatsSent.WithLabelValues(cs.identity, kind, "success").Inc()
}

func (cs *ChunkServer) heartbeat(major bool, corrupted []models.ChunkRef) models.Message {
	if major {
		return &models.MajorHeartbeat{
			Identity:        cs.identity,
			CorruptFound:    len(corrupted) > 0,
			CorruptedChunks: corrupted,
			AvailableSpace:  cs.store.AvailableSpace(),
			Files:           cs.store.FileMap(),
		}
	}
	added := cs.store.DrainNewChunks()
	return &models.MinorHeartbeat{
		Identity:        cs.identity,
		ChunksAdded:     len(added) > 0,
		AddedChunks:     added,
		CorruptFound:    len(corrupted) > 0,
		CorruptedChunks: corrupted,
	}
}
