package relay

import (
	"context"
	"time"
)

// runSweepLoop periodically reconciles the registry with transport state,
// covering close events the read loop never saw.
func (s *Server) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			s.logger.Info().Msg("Sweep loop stopping")
			return
		}
	}
}

// Sweep removes registry entries whose transport is already dead and emits
// scanner-disconnected exactly as the close handler would. The walk itself
// does no I/O; departure broadcasts go through the worker pool. Running the
// sweep on an already clean registry is a no-op, so it is idempotent.
func (s *Server) Sweep() {
	swept := 0
	for _, rec := range s.registry.All() {
		if rec.Peer.Alive() {
			continue
		}
		s.logger.Warn().Str("handle", rec.Handle).Str("client_id", rec.ClientID).Msg("Sweeping dead connection")
		s.dropConnection(rec.Handle)
		swept++
	}
	if swept > 0 {
		s.logger.Info().Int("swept", swept).Msg("Dead-connection sweep finished")
	}
}
