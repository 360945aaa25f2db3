// Package server wires the long-running pieces together: the ClickHouse
// store, the realtime collector, the completeness monitor and the supporting
// HTTP listeners. Backfill runs are driven separately by the CLI.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gaplessdata/block-ingestor/internal/version"
	"github.com/gaplessdata/block-ingestor/pkg/collector"
	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
	"github.com/gaplessdata/block-ingestor/pkg/leaderelection"
	"github.com/gaplessdata/block-ingestor/pkg/monitor"
	"github.com/gaplessdata/block-ingestor/pkg/normalize"
	"github.com/gaplessdata/block-ingestor/pkg/notify"
	"github.com/gaplessdata/block-ingestor/pkg/observability"
	"github.com/gaplessdata/block-ingestor/pkg/ratelimit"
	"github.com/gaplessdata/block-ingestor/pkg/redis"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

type Server struct {
	log    logrus.FieldLogger
	config *Config

	redis     *r.Client
	node      *ethereum.Node
	chClient  *storage.Client
	store     *storage.BlocksStore
	elector   leaderelection.Elector
	collector *collector.Collector
	monitor   *monitor.Monitor

	pprofServer  *http.Server
	healthServer *http.Server
}

func NewServer(_ context.Context, log logrus.FieldLogger, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	network := config.Ethereum.Network

	redisClient, err := redis.New(config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	node, err := ethereum.NewNode(log, &config.Ethereum)
	if err != nil {
		return nil, fmt.Errorf("failed to create ethereum node: %w", err)
	}

	limiter, err := ratelimit.New(&config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	chClient, err := storage.NewClient(log, &config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse client: %w", err)
	}

	store := storage.NewBlocksStore(log, chClient)

	var elector leaderelection.Elector

	if config.LeaderElection != nil {
		redisElector, err := leaderelection.NewRedisElector(redisClient, log, config.Redis.Prefix, network, config.LeaderElection)
		if err != nil {
			return nil, fmt.Errorf("failed to create leader elector: %w", err)
		}

		elector = redisElector
	}

	normalizer := normalize.NewNormalizer(normalize.MainnetRules())

	var coll *collector.Collector

	if config.Collector.Enabled {
		coll, err = collector.New(
			log,
			collector.NewNodeSource(node),
			limiter,
			normalizer,
			store,
			elector,
			&config.Collector,
			network,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create collector: %w", err)
		}
	}

	var heartbeat *notify.Heartbeat

	if config.Notifications.HeartbeatURL != "" {
		heartbeat = notify.NewHeartbeat(config.Notifications.HeartbeatURL, network)
	}

	mon, err := monitor.New(
		log,
		store,
		redisClient,
		config.Redis.Prefix,
		config.Notifications.Notifier(network),
		heartbeat,
		elector,
		&config.Monitor,
		network,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	return &Server{
		log:       log,
		config:    config,
		redis:     redisClient,
		node:      node,
		chClient:  chClient,
		store:     store,
		elector:   elector,
		collector: coll,
		monitor:   mon,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.log.WithField("version", version.Full()).Info("Starting block-ingestor")

	g, ctx := errgroup.WithContext(ctx)

	// Start metrics server
	g.Go(func() error {
		observability.StartMetricsServer(ctx, s.config.MetricsAddr)

		return nil
	})

	// Start pprof server if configured
	if s.config.PProfAddr != nil {
		g.Go(func() error {
			if err := s.startPProf(); err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		})
	}

	// Start health check server if configured
	if s.config.HealthCheckAddr != nil {
		g.Go(func() error {
			if err := s.startHealthCheck(); err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		})
	}

	if err := s.chClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start clickhouse client: %w", err)
	}

	if err := s.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run storage migration: %w", err)
	}

	if s.elector != nil {
		if err := s.elector.Start(ctx); err != nil {
			return fmt.Errorf("failed to start leader election: %w", err)
		}
	}

	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	if s.collector != nil {
		g.Go(func() error {
			return s.collector.Run(ctx)
		})
	}

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()

		return s.stopComponents(ctx)
	})

	return g.Wait()
}

func (s *Server) stopComponents(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	if err := s.monitor.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop monitor")
	}

	if s.elector != nil {
		if err := s.elector.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop leader election")
		}
	}

	if err := s.chClient.Stop(); err != nil {
		s.log.WithError(err).Error("failed to stop clickhouse client")
	}

	if s.redis != nil {
		s.log.Info("Closing Redis connection...")

		if err := s.redis.Close(); err != nil {
			s.log.WithError(err).Error("failed to close redis")
		}
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown health server")
		}
	}

	if err := observability.StopMetricsServer(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	s.log.Info("Ingestor stopped gracefully")

	return nil
}

func (s *Server) startPProf() error {
	s.log.WithField("addr", *s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              *s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.pprofServer.ListenAndServe()
}

func (s *Server) startHealthCheck() error {
	s.log.WithField("addr", *s.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.healthServer = &http.Server{
		Addr:              *s.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.healthServer.ListenAndServe()
}
