package drop

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_sweeps_total",
		Help: "Completed sweeper cycles.",
	})
	sweepReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_sweep_reclaimed_total",
		Help: "Drops reclaimed by the sweeper.",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropbin_sweep_errors_total",
		Help: "Reclaim failures during sweeps.",
	})
)

// sweepBatch bounds one cycle's workload. Anything left over is picked
// up next cycle; lazy expiry keeps stale drops unreachable meanwhile.
const sweepBatch = 100

// SweeperConfig holds the sweeper schedule.
type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Sweeper periodically reclaims expired and exhausted drops through the
// engine. It is only a space-reclamation mechanism: correctness never
// depends on a sweep having run.
type Sweeper struct {
	engine *Engine
	cfg    SweeperConfig
	done   chan struct{}
}

// NewSweeper creates a sweeper over the engine.
func NewSweeper(engine *Engine, cfg SweeperConfig) *Sweeper {
	return &Sweeper{engine: engine, cfg: cfg, done: make(chan struct{})}
}

// Start runs the sweep loop until ctx is cancelled. Runs once
// immediately so a restart does not wait a full interval to catch up.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Printf("service=sweeper msg=%q", "disabled")
		close(s.done)
		return
	}

	log.Printf("service=sweeper msg=%q interval=%s", "starting", s.cfg.Interval)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Printf("service=sweeper msg=%q", "shutting_down")
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Wait blocks until the sweep loop has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) runOnce(ctx context.Context) {
	start := time.Now()

	ids, err := s.engine.meta.ListExpired(ctx, s.engine.now(), sweepBatch)
	if err != nil {
		log.Printf("service=sweeper msg=%q err=%v", "list_failed", err)
		return
	}

	reclaimed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := s.engine.Reclaim(ctx, id); err != nil {
			// Partial progress is fine, the rest goes next cycle.
			log.Printf("service=sweeper msg=%q id=%s err=%v", "reclaim_failed", id, err)
			sweepErrorsTotal.Inc()
			continue
		}
		reclaimed++
	}

	sweepsTotal.Inc()
	sweepReclaimedTotal.Add(float64(reclaimed))
	log.Printf("service=sweeper msg=%q reclaimed=%d duration_ms=%d",
		"sweep_complete", reclaimed, time.Since(start).Milliseconds())
}
