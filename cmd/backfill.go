package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gaplessdata/block-ingestor/pkg/backfill"
	"github.com/gaplessdata/block-ingestor/pkg/ethereum"
	"github.com/gaplessdata/block-ingestor/pkg/normalize"
	"github.com/gaplessdata/block-ingestor/pkg/ratelimit"
	"github.com/gaplessdata/block-ingestor/pkg/redis"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

var (
	backfillStart     uint64
	backfillEnd       uint64
	backfillChunkSize uint64
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Runs a chunked historical backfill.",
	Long: `Fetches the half-open block range [start, end), normalizes each block and
writes it to ClickHouse. Runs are checkpointed per chunk, so re-running the
same range resumes where the previous run stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initCommon()

		return runBackfill(cmd.Context())
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillStart, "start", 0, "first block of the range (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillEnd, "end", 0, "one past the last block of the range")
	backfillCmd.Flags().Uint64Var(&backfillChunkSize, "chunk-size", 0, "blocks per chunk (overrides config)")

	_ = backfillCmd.MarkFlagRequired("start")
	_ = backfillCmd.MarkFlagRequired("end")

	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(ctx context.Context) error {
	config, err := loadServerConfigFromFile(serverConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLoggingLevel(config.LoggingLevel)

	runConfig := config.Backfill
	runConfig.StartBlock = backfillStart
	runConfig.EndBlock = backfillEnd

	if backfillChunkSize > 0 {
		runConfig.ChunkSize = backfillChunkSize
	}

	if err := runConfig.Validate(); err != nil {
		return fmt.Errorf("invalid backfill range: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	network := config.Ethereum.Network

	redisClient, err := redis.New(config.Redis)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}

	defer func() {
		_ = redisClient.Close()
	}()

	node, err := ethereum.NewNode(log, &config.Ethereum)
	if err != nil {
		return fmt.Errorf("failed to create ethereum node: %w", err)
	}

	limiter, err := ratelimit.New(&config.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}

	chClient, err := storage.NewClient(log, &config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create clickhouse client: %w", err)
	}

	if err := chClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start clickhouse client: %w", err)
	}

	defer func() {
		_ = chClient.Stop()
	}()

	store := storage.NewBlocksStore(log, chClient)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run storage migration: %w", err)
	}

	checkpoints := backfill.NewCheckpointStore(redisClient, config.Redis.Prefix, network)

	processor := backfill.NewProcessor(
		log,
		node,
		limiter,
		normalize.NewNormalizer(normalize.MainnetRules()),
		store,
		checkpoints,
		&config.Ethereum.Retry,
		&runConfig,
		network,
	)

	scheduler, err := backfill.NewScheduler(log, redisClient, processor, checkpoints, &runConfig, network)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := scheduler.Run(ctx); err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	log.Info("Backfill completed")

	return nil
}
