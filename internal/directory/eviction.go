package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// HEvict is the default heartbeat staleness threshold after which an
// unresponsive action server is transitioned to Dead and its zone freed
// (§4.3, invariant "Eviction loop").
const HEvict = 15 * time.Second

// EvictionScanInterval is how often the eviction loop scans for stale
// heartbeats. It is independent of HEvict itself — a shorter scan interval
// just bounds how late an eviction can land relative to the threshold.
const EvictionScanInterval = 2 * time.Second

// ZoneStatsInterval is the default cadence of StreamZoneStatistics (§4.3).
const ZoneStatsInterval = 1 * time.Second

// Scheduler runs the directory's two periodic jobs (eviction scan and zone
// statistics sampling) via gocron. Both jobs run on fixed short intervals,
// so they are registered with gocron.DurationJob rather than gocron.CronJob.
type Scheduler struct {
	cron gocron.Scheduler
	dir  *Directory
	log  *zap.Logger

	statsSubscribers []chan<- []ZoneStats
}

func NewScheduler(dir *Directory, log *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("directory: failed to create gocron scheduler: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{cron: cron, dir: dir, log: log.Named("directory.scheduler")}, nil
}

// Subscribe registers a channel to receive every ZoneStatsSnapshot sample
// from the single cooperative producer below; a slow consumer drops samples
// rather than blocking the scan job (the channel is expected to be created
// with a small buffer by the caller). The Directory grain has no
// StreamZoneStatistics case, so this feed is not reachable over RPC.
func (s *Scheduler) Subscribe(ch chan<- []ZoneStats) {
	s.statsSubscribers = append(s.statsSubscribers, ch)
}

// Start registers and starts the eviction and zone-statistics jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.NewJob(
		gocron.DurationJob(EvictionScanInterval),
		gocron.NewTask(func() { s.runEvictionScan(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("directory: schedule eviction job: %w", err)
	}

	if _, err := s.cron.NewJob(
		gocron.DurationJob(ZoneStatsInterval),
		gocron.NewTask(func() { s.runZoneStatsSample(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("directory: schedule zone stats job: %w", err)
	}

	s.cron.Start()
	s.log.Info("directory scheduler started",
		zap.Duration("evictionScan", EvictionScanInterval),
		zap.Duration("hEvict", HEvict),
		zap.Duration("zoneStats", ZoneStatsInterval),
	)
	return nil
}

func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("directory: scheduler shutdown: %w", err)
	}
	return nil
}

func (s *Scheduler) runEvictionScan(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-HEvict)

	var stale []ActionServerRecord
	if err := s.dir.db.WithContext(ctx).
		Where("status != ? AND last_heartbeat < ?", "Dead", cutoff).
		Find(&stale).Error; err != nil {
		s.log.Error("eviction scan: query failed", zap.Error(err))
		return
	}
	for _, rec := range stale {
		if err := s.dir.db.WithContext(ctx).Model(&ActionServerRecord{}).
			Where("server_id = ?", rec.ServerID).
			Update("status", "Dead").Error; err != nil {
			s.log.Error("eviction scan: mark dead failed", zap.String("serverId", rec.ServerID), zap.Error(err))
			continue
		}
		s.log.Warn("action server evicted", zap.String("serverId", rec.ServerID),
			zap.Duration("staleFor", time.Since(rec.LastHeartbeat)))
	}
}

func (s *Scheduler) runZoneStatsSample(ctx context.Context) {
	if len(s.statsSubscribers) == 0 {
		return
	}
	stats, err := s.dir.ZoneStatsSnapshot(ctx)
	if err != nil {
		s.log.Error("zone stats sample failed", zap.Error(err))
		return
	}
	for _, ch := range s.statsSubscribers {
		select {
		case ch <- stats:
		default:
			// Slow subscriber: drop this sample rather than block the
			// single cooperative producer (§4.3 "single-threaded cooperative
			// producer").
		}
	}
}
