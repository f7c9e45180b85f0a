package meshnet

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PeerID identifies a mesh peer.
type PeerID string

// NetworkStats summarizes the local view of the mesh.
type NetworkStats struct {
	PeerCount       int
	MessagesSent    uint64
	MessagesDropped uint64
}

// Service is the capability abstraction the mesh network exposes.
type Service interface {
	BroadcastMessage(ctx context.Context, msg ProtocolMessage) error
	SendMessage(ctx context.Context, peer PeerID, msg ProtocolMessage) error
	Subscribe() (<-chan ProtocolMessage, func(), error)
	DiscoverPeers(ctx context.Context, hint string) ([]PeerID, error)
	ConnectPeer(ctx context.Context, addr string) error
	GetNetworkStats() NetworkStats
	Close() error
}

// retryConfig is the bounded exponential backoff policy for broadcast
// retries.
type retryConfig struct {
	MaxAttempts int
	Base        time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{MaxAttempts: 5, Base: 100 * time.Millisecond}
}

// withBackoff retries op with bounded exponential backoff plus a random
// jitter of up to a quarter of each delay. Once every attempt has failed it
// returns an error wrapping the last failure; it does not log.
func withBackoff(ctx context.Context, cfg retryConfig, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := op(); err != nil {
			lastErr = err
			delay := cfg.Base * time.Duration(1<<uint(attempt))
			jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("meshnet: exhausted %d retries: %w", cfg.MaxAttempts, lastErr)
}

// dialAll fans out connection attempts to many addresses concurrently so one
// slow or unreachable peer never blocks the rest of the bootstrap set. Every
// dial runs to completion; the first error (if any) is returned.
func dialAll(ctx context.Context, addrs []string, dial func(context.Context, string) error) error {
	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error { return dial(ctx, addr) })
	}
	return g.Wait()
}

var logMeshnet = log.WithField("component", "meshnet")
