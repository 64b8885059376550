package token

import (
	"context"
	"time"

	"gatekit.org/internal/obs"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes expired tracking records. It runs
// independently of request handling and shares the store's per-key
// transactional boundary with issuance and revocation, so a concurrent
// issue can never be swept by the same pass that observed an earlier
// clock reading.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

// NewSweeper constructs a Sweeper. A non-positive interval falls back
// to the default.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until the context is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.svc.SweepExpired(ctx)
			if err != nil {
				obs.LogRequest(map[string]any{
					"level": "error",
					"msg":   "token sweep failed",
					"error": err.Error(),
				})
				continue
			}
			obs.TokensSwept(removed)
			if removed > 0 {
				obs.LogRequest(map[string]any{
					"level":   "info",
					"msg":     "token sweep removed expired records",
					"removed": removed,
				})
			}
		}
	}
}
