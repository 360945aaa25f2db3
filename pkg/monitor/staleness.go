package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

// StalenessChecker compares the newest stored block's age against a
// threshold. An empty store is reported as stale with zero age.
type StalenessChecker struct {
	log     logrus.FieldLogger
	store   storage.Store
	config  *Config
	network string

	now func() time.Time
}

func NewStalenessChecker(log logrus.FieldLogger, store storage.Store, config *Config, network string) *StalenessChecker {
	return &StalenessChecker{
		log:     log.WithField("component", "staleness_checker"),
		store:   store,
		config:  config,
		network: network,
		now:     time.Now,
	}
}

// CheckStaleness returns whether ingestion has fallen behind and how old the
// newest stored block is.
func (s *StalenessChecker) CheckStaleness(ctx context.Context) (bool, time.Duration, error) {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return false, 0, err
	}

	if latest == nil {
		s.log.Warn("Store is empty, treating as stale")

		return true, 0, nil
	}

	age := s.now().Sub(latest.Timestamp)
	stale := age > s.config.StalenessThreshold

	common.StalenessAge.WithLabelValues(s.network).Set(age.Seconds())

	if stale {
		s.log.WithFields(logrus.Fields{
			"age":       age,
			"threshold": s.config.StalenessThreshold,
			"latest":    latest.Number,
		}).Warn("Stored data is stale")
	}

	return stale, age, nil
}
