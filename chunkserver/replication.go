package chunkserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/sutd_chunkdfs/models"
	"github.com/sutd_chunkdfs/transport"
)

// forwarder pushes chunks to the next hop of a replication chain. Each peer
// gets its own circuit breaker so an unreachable hop fails fast instead of
// costing a dial per chunk. Nothing is retried.
type forwarder struct {
	log zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newForwarder(logger zerolog.Logger) *forwarder {
	return &forwarder{log: logger, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (f *forwarder) breaker(peer string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[peer]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("forward-%s", peer),
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				f.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit changed state")
			},
		})
		f.breakers[peer] = cb
	}
	return cb
}

// nextHop strips self from the front of the chain and returns where the
// chunk goes next together with the chain that hop should continue with.
func nextHop(self string, chain []string) (string, []string, bool) {
	for len(chain) > 0 && chain[0] == self {
		chain = chain[1:]
	}
	if len(chain) == 0 {
		return "", nil, false
	}
	rest := make([]string, len(chain)-1)
	copy(rest, chain[1:])
	return chain[0], rest, true
}

// forward sends upload to peer with the given remaining chain on a fresh
// connection. No acknowledgement is awaited.
func (f *forwarder) forward(ctx context.Context, peer string, rest []string, upload *models.Upload) error {
	msg := &models.Upload{
		FileName:    upload.FileName,
		ChunkNumber: upload.ChunkNumber,
		TotalChunks: upload.TotalChunks,
		Chain:       rest,
		Payload:     upload.Payload,
	}
	_, err := f.breaker(peer).Execute(func() (interface{}, error) {
		return nil, transport.Notify(ctx, peer, msg)
	})
	return err
}
