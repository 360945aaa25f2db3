package leaderelection

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
)

// renewScript atomically extends the lock TTL if we still own it.
const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// releaseScript atomically deletes the lock if we still own it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisElector implements leader election with a Redis SET NX lock.
type RedisElector struct {
	client  *redis.Client
	log     logrus.FieldLogger
	config  *Config
	nodeID  string
	keyName string
	network string

	mu       sync.RWMutex
	isLeader bool
	stopped  bool

	callbacksMu sync.RWMutex
	callbacks   []LeadershipCallback

	stopChan chan struct{}
	wg       sync.WaitGroup
}

var _ Elector = (*RedisElector)(nil)

// NewRedisElector creates a Redis-based leader elector. The lock key is
// namespaced per network so multiple deployments can share one Redis.
func NewRedisElector(client *redis.Client, log logrus.FieldLogger, prefix, network string, config *Config) (*RedisElector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid leader election config: %w", err)
	}

	nodeID := config.NodeID
	if nodeID == "" {
		bytes := make([]byte, 16)

		if _, err := rand.Read(bytes); err != nil {
			return nil, fmt.Errorf("failed to generate node ID: %w", err)
		}

		nodeID = hex.EncodeToString(bytes)
	}

	return &RedisElector{
		client:   client,
		log:      log.WithField("component", "leader_election").WithField("node_id", nodeID),
		config:   config,
		nodeID:   nodeID,
		keyName:  fmt.Sprintf("%s:leader:%s", prefix, network),
		network:  network,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the election loop.
func (e *RedisElector) Start(ctx context.Context) error {
	e.log.WithField("key", e.keyName).Info("Starting leader election")

	common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(0)

	e.wg.Add(1)

	go e.run(ctx)

	return nil
}

// Stop halts the election loop and releases a held lock.
func (e *RedisElector) Stop(ctx context.Context) error {
	e.mu.Lock()

	if e.stopped {
		e.mu.Unlock()

		return nil
	}

	e.stopped = true
	e.mu.Unlock()

	e.log.Info("Stopping leader election")

	close(e.stopChan)
	e.wg.Wait()

	if e.IsLeader() {
		common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(0)

		if err := e.releaseLeadership(ctx); err != nil {
			e.log.WithError(err).Error("Failed to release leadership on stop")
		}
	}

	return nil
}

// IsLeader returns true if this node currently holds the lock.
func (e *RedisElector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader
}

// LeaderID returns the current leader's node ID.
func (e *RedisElector) LeaderID(ctx context.Context) (string, error) {
	val, err := e.client.Get(ctx, e.keyName).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("no leader elected")
	}

	if err != nil {
		return "", fmt.Errorf("failed to get leader ID: %w", err)
	}

	return val, nil
}

// OnLeadershipChange registers a callback invoked on every transition.
func (e *RedisElector) OnLeadershipChange(callback LeadershipCallback) {
	e.callbacksMu.Lock()
	defer e.callbacksMu.Unlock()

	e.callbacks = append(e.callbacks, callback)
}

func (e *RedisElector) notifyLeadershipChange(ctx context.Context, isLeader bool) {
	e.callbacksMu.RLock()
	callbacks := make([]LeadershipCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(ctx, isLeader)
	}
}

func (e *RedisElector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()

	if e.tryAcquireLeadership(ctx) {
		e.notifyLeadershipChange(ctx, true)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			if e.IsLeader() {
				if !e.renewLeadership(ctx) {
					e.handleLeadershipLoss(ctx)
				}
			} else {
				if e.tryAcquireLeadership(ctx) {
					e.notifyLeadershipChange(ctx, true)
				}
			}
		}
	}
}

func (e *RedisElector) tryAcquireLeadership(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.keyName, e.nodeID, e.config.TTL).Result()
	if err != nil {
		e.log.WithError(err).Error("Failed to acquire leadership")

		return false
	}

	if !ok {
		return false
	}

	e.mu.Lock()
	e.isLeader = true
	e.mu.Unlock()

	common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(1)

	e.log.Info("Acquired leadership")

	return true
}

func (e *RedisElector) renewLeadership(ctx context.Context) bool {
	result, err := e.client.Eval(ctx, renewScript, []string{e.keyName}, e.nodeID, e.config.TTL.Milliseconds()).Result()
	if err != nil {
		e.log.WithError(err).Error("Failed to renew leadership")

		return false
	}

	val, ok := result.(int64)
	if !ok || val != 1 {
		e.log.Warn("Failed to renew leadership - lock not owned by this node")

		return false
	}

	return true
}

func (e *RedisElector) releaseLeadership(ctx context.Context) error {
	result, err := e.client.Eval(ctx, releaseScript, []string{e.keyName}, e.nodeID).Result()
	if err != nil {
		return fmt.Errorf("failed to release leadership: %w", err)
	}

	if val, ok := result.(int64); ok && val == 1 {
		e.log.Info("Released leadership")
	} else {
		e.log.Warn("Could not release leadership - lock not owned by this node")
	}

	e.mu.Lock()
	e.isLeader = false
	e.mu.Unlock()

	return nil
}

func (e *RedisElector) handleLeadershipLoss(ctx context.Context) {
	e.mu.Lock()
	e.isLeader = false
	e.mu.Unlock()

	common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(0)

	e.log.Info("Lost leadership")

	e.notifyLeadershipChange(ctx, false)
}
