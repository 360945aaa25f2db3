// Package monitor runs the scheduled completeness checks: gap scans over the
// stored block sequence, staleness checks against the newest block, and the
// dead-man's-switch heartbeat. Checks are leader gated so a multi-replica
// deployment alerts once.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/leaderelection"
	"github.com/gaplessdata/block-ingestor/pkg/notify"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

const checkTimeout = 60 * time.Second

// Monitor owns the periodic check schedule.
type Monitor struct {
	log       logrus.FieldLogger
	detector  *GapDetector
	staleness *StalenessChecker
	tracker   *GapTracker
	notifier  notify.Notifier
	heartbeat *notify.Heartbeat
	elector   leaderelection.Elector
	config    *Config
	network   string

	scheduler *gocron.Scheduler
}

// New creates a monitor. The elector is optional; without one every replica
// runs the checks. The heartbeat may be nil when no ping URL is configured.
func New(
	log logrus.FieldLogger,
	store storage.Store,
	redisClient *redis.Client,
	redisPrefix string,
	notifier notify.Notifier,
	heartbeat *notify.Heartbeat,
	elector leaderelection.Elector,
	config *Config,
	network string,
) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if notifier == nil {
		notifier = notify.Noop{}
	}

	return &Monitor{
		log:       log.WithField("component", "monitor"),
		detector:  NewGapDetector(log, store, config, network),
		staleness: NewStalenessChecker(log, store, config, network),
		tracker:   NewGapTracker(log, redisClient, redisPrefix, network, config.GapGracePeriod),
		notifier:  notifier,
		heartbeat: heartbeat,
		elector:   elector,
		config:    config,
		network:   network,
	}, nil
}

// Start schedules the checks and returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("Monitor is disabled")

		return nil
	}

	s := gocron.NewScheduler(time.Local)

	if _, err := s.Every(m.config.GapScanInterval).Do(func() {
		scanCtx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := m.RunGapScan(scanCtx); err != nil {
			m.log.WithError(err).Warn("Gap scan failed")
		}
	}); err != nil {
		return err
	}

	if _, err := s.Every(m.config.StalenessInterval).Do(func() {
		checkCtx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := m.RunStalenessCheck(checkCtx); err != nil {
			m.log.WithError(err).Warn("Staleness check failed")
		}
	}); err != nil {
		return err
	}

	if m.heartbeat.Enabled() {
		if _, err := s.Every(m.config.HeartbeatInterval).Do(func() {
			pingCtx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()

			if err := m.RunHeartbeat(pingCtx); err != nil {
				m.log.WithError(err).Warn("Heartbeat ping failed")
			}
		}); err != nil {
			return err
		}
	}

	s.StartAsync()
	m.scheduler = s

	m.log.WithFields(logrus.Fields{
		"gap_scan_interval":  m.config.GapScanInterval,
		"staleness_interval": m.config.StalenessInterval,
		"heartbeat":          m.heartbeat.Enabled(),
	}).Info("Monitor started")

	return nil
}

// Stop halts the schedule.
func (m *Monitor) Stop(_ context.Context) error {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}

	return nil
}

// isActive reports whether this replica should run checks right now.
func (m *Monitor) isActive() bool {
	return m.elector == nil || m.elector.IsLeader()
}

// RunGapScan performs one gap scan and routes the results through the
// two-tier tracker: fresh gaps are recorded silently, gaps persisting past
// the grace period escalate once, resolved gaps are announced and dropped.
func (m *Monitor) RunGapScan(ctx context.Context) error {
	if !m.isActive() {
		return nil
	}

	gaps, err := m.detector.DetectGaps(ctx)
	if err != nil {
		return err
	}

	escalate, resolved, err := m.tracker.Reconcile(ctx, gaps)
	if err != nil {
		return err
	}

	if len(escalate) > 0 {
		if err := m.notifier.Notify(ctx, &notify.Notification{
			Title:    fmt.Sprintf("[%s] Persistent block gaps", m.network),
			Message:  describeGaps(escalate),
			Priority: notify.PriorityEmergency,
		}); err != nil {
			m.log.WithError(err).Warn("Failed to send gap notification")
		}
	}

	if len(resolved) > 0 {
		if err := m.notifier.Notify(ctx, &notify.Notification{
			Title:    fmt.Sprintf("[%s] Block gaps resolved", m.network),
			Message:  describeGaps(resolved),
			Priority: notify.PriorityNormal,
		}); err != nil {
			m.log.WithError(err).Warn("Failed to send gap resolution notification")
		}
	}

	return nil
}

// RunStalenessCheck performs one staleness check, alerting and failing the
// heartbeat when ingestion has fallen behind.
func (m *Monitor) RunStalenessCheck(ctx context.Context) error {
	if !m.isActive() {
		return nil
	}

	stale, age, err := m.staleness.CheckStaleness(ctx)
	if err != nil {
		return err
	}

	if !stale {
		return nil
	}

	if err := m.notifier.Notify(ctx, &notify.Notification{
		Title:    fmt.Sprintf("[%s] Ingestion is stale", m.network),
		Message:  fmt.Sprintf("newest stored block is %s old (threshold %s)", age.Round(time.Second), m.config.StalenessThreshold),
		Priority: notify.PriorityHigh,
	}); err != nil {
		m.log.WithError(err).Warn("Failed to send staleness notification")
	}

	if m.heartbeat.Enabled() {
		if err := m.heartbeat.Fail(ctx); err != nil {
			m.log.WithError(err).Warn("Failed to send failure ping")
		}
	}

	return nil
}

// RunHeartbeat sends the liveness ping. The sink pages when pings stop, so
// this fires on every schedule tick while this replica is active.
func (m *Monitor) RunHeartbeat(ctx context.Context) error {
	if !m.isActive() {
		return nil
	}

	return m.heartbeat.Success(ctx)
}

func describeGaps(gaps []storage.BlockRange) string {
	parts := make([]string, 0, len(gaps))

	var missing uint64

	for _, gap := range gaps {
		missing += gap.Size()

		parts = append(parts, fmt.Sprintf("%d-%d (%d blocks)", gap.Start, gap.End, gap.Size()))
	}

	return fmt.Sprintf("%d missing blocks: %s", missing, strings.Join(parts, ", "))
}
