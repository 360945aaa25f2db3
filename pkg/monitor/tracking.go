package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

// trackerTTL bounds how long stale tracking state survives a decommissioned
// deployment.
const trackerTTL = 30 * 24 * time.Hour

type trackedGap struct {
	FirstSeen int64 `json:"first_seen"`
	Alerted   bool  `json:"alerted"`
}

// GapTracker implements two-tier gap alerting on top of a redis hash. A gap
// seen for the first time is only recorded; it escalates once it has
// persisted past the grace period, and it escalates exactly once. Gaps that
// disappear between scans are reported as resolved and dropped.
type GapTracker struct {
	log    logrus.FieldLogger
	client *redis.Client
	key    string
	grace  time.Duration

	now func() time.Time
}

func NewGapTracker(log logrus.FieldLogger, client *redis.Client, prefix, network string, grace time.Duration) *GapTracker {
	return &GapTracker{
		log:    log.WithField("component", "gap_tracker"),
		client: client,
		key:    fmt.Sprintf("%s:monitor:%s:gaps", prefix, network),
		grace:  grace,
		now:    time.Now,
	}
}

func gapField(gap storage.BlockRange) string {
	return fmt.Sprintf("%d-%d", gap.Start, gap.End)
}

// Reconcile folds the latest scan results into the tracked state. It returns
// the gaps that crossed the grace period this scan (escalate) and the
// previously tracked gaps that are no longer present (resolved).
func (t *GapTracker) Reconcile(ctx context.Context, gaps []storage.BlockRange) (escalate, resolved []storage.BlockRange, err error) {
	tracked, err := t.client.HGetAll(ctx, t.key).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tracked gaps: %w", err)
	}

	now := t.now()
	current := make(map[string]struct{}, len(gaps))

	for _, gap := range gaps {
		field := gapField(gap)
		current[field] = struct{}{}

		raw, seen := tracked[field]
		if !seen {
			if err := t.write(ctx, field, trackedGap{FirstSeen: now.Unix()}); err != nil {
				return nil, nil, err
			}

			t.log.WithField("gap", field).Info("Tracking new gap")

			continue
		}

		var state trackedGap
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			// Unreadable state is treated as newly seen.
			if err := t.write(ctx, field, trackedGap{FirstSeen: now.Unix()}); err != nil {
				return nil, nil, err
			}

			continue
		}

		if state.Alerted {
			continue
		}

		if now.Sub(time.Unix(state.FirstSeen, 0)) >= t.grace {
			state.Alerted = true
			if err := t.write(ctx, field, state); err != nil {
				return nil, nil, err
			}

			escalate = append(escalate, gap)
		}
	}

	for field := range tracked {
		if _, ok := current[field]; ok {
			continue
		}

		var gap storage.BlockRange
		if _, err := fmt.Sscanf(field, "%d-%d", &gap.Start, &gap.End); err != nil {
			t.log.WithField("field", field).Warn("Dropping unparseable tracked gap")
		} else {
			resolved = append(resolved, gap)
		}

		if err := t.client.HDel(ctx, t.key, field).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to drop resolved gap: %w", err)
		}
	}

	return escalate, resolved, nil
}

func (t *GapTracker) write(ctx context.Context, field string, state trackedGap) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal gap state: %w", err)
	}

	if err := t.client.HSet(ctx, t.key, field, payload).Err(); err != nil {
		return fmt.Errorf("failed to track gap: %w", err)
	}

	return t.client.Expire(ctx, t.key, trackerTTL).Err()
}
