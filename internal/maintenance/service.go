// Package maintenance runs periodic housekeeping: expired-row cleanup on the
// durable cache tiers and history retention pruning. Both operations stay
// callable on demand; this service just schedules them.
package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"

	"fetchd/internal/cache"
	"fetchd/internal/history"
	"fetchd/pkg/logx"
)

type Config struct {
	// Spec is a cron expression ("@hourly", "0 */6 * * *", ...). Empty
	// defaults to @hourly.
	Spec string
	// HistoryRetention prunes history records older than this. Zero disables
	// pruning.
	HistoryRetention time.Duration
}

type Service struct {
	cfg     Config
	log     logx.Logger
	caches  []*cache.Tiered
	history *history.Store

	c *cron.Cron
}

func New(cfg Config, log logx.Logger, caches []*cache.Tiered, hist *history.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, caches: caches, history: hist}
}

func (s *Service) Start() error {
	spec := s.cfg.Spec
	if spec == "" {
		spec = "@hourly"
	}
	s.c = cron.New()
	if _, err := s.c.AddFunc(spec, s.RunOnce); err != nil {
		return err
	}
	s.c.Start()
	s.log.Info("maintenance scheduled", logx.String("spec", spec))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	ctx := s.c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		s.log.Warn("maintenance job still running at stop")
	}
}

// RunOnce performs one full housekeeping pass. Exposed so callers can trigger
// it on demand.
func (s *Service) RunOnce() {
	start := time.Now()
	removed := 0
	for _, c := range s.caches {
		removed += c.Cleanup()
	}

	pruned := 0
	if s.history != nil && s.cfg.HistoryRetention > 0 {
		n, err := s.history.Prune(s.cfg.HistoryRetention)
		if err != nil {
			s.log.Warn("history prune failed", logx.Err(err))
		} else {
			pruned = n
		}
	}

	s.log.Debug("maintenance pass done",
		logx.Int("cache_expired", removed),
		logx.Int("history_pruned", pruned),
		logx.Duration("took", time.Since(start)))
}
