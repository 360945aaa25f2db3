package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gaplessdata/block-ingestor/pkg/common"
	"github.com/gaplessdata/block-ingestor/pkg/storage"
)

// GapDetector scans the stored block-number sequence for holes. Scans are
// read only and repeatable: the same data always yields the same gaps.
type GapDetector struct {
	log     logrus.FieldLogger
	store   storage.Store
	config  *Config
	network string

	now func() time.Time
}

func NewGapDetector(log logrus.FieldLogger, store storage.Store, config *Config, network string) *GapDetector {
	return &GapDetector{
		log:     log.WithField("component", "gap_detector"),
		store:   store,
		config:  config,
		network: network,
		now:     time.Now,
	}
}

// DetectGaps returns up to GapLimit missing ranges, largest first. Blocks
// younger than the exclusion window are not scanned: the realtime collector's
// in-flight writes would show up as a trailing gap that resolves itself
// within seconds.
func (d *GapDetector) DetectGaps(ctx context.Context) ([]storage.BlockRange, error) {
	latest, err := d.store.Latest(ctx)
	if err != nil {
		return nil, err
	}

	if latest == nil {
		d.log.Debug("Store is empty, nothing to scan")

		return nil, nil
	}

	ceiling := d.exclusionCeiling(latest)

	minNumber, maxNumber, err := d.store.MinMaxNumbers(ctx)
	if err != nil {
		return nil, err
	}

	if minNumber != nil && maxNumber != nil {
		d.log.WithFields(logrus.Fields{
			"min_stored":   *minNumber,
			"max_stored":   *maxNumber,
			"scan_ceiling": ceiling,
		}).Debug("Scanning stored block sequence")
	}

	gaps, err := d.store.MissingRanges(ctx, ceiling, d.config.GapLimit)
	if err != nil {
		return nil, err
	}

	var missing uint64
	for _, gap := range gaps {
		missing += gap.Size()
	}

	common.GapsDetected.WithLabelValues(d.network).Set(float64(len(gaps)))
	common.GapBlocksMissing.WithLabelValues(d.network).Set(float64(missing))

	if len(gaps) > 0 {
		d.log.WithFields(logrus.Fields{
			"gaps":           len(gaps),
			"missing_blocks": missing,
			"largest_start":  gaps[0].Start,
			"largest_end":    gaps[0].End,
			"scan_ceiling":   ceiling,
		}).Warn("Detected gaps in stored block sequence")
	}

	return gaps, nil
}

// exclusionCeiling converts the trailing exclusion window into a block-number
// ceiling, anchored on the newest stored block's own timestamp so a lagging
// store does not shrink the scanned window further than the wall clock asks.
func (d *GapDetector) exclusionCeiling(latest *storage.StoredBlock) uint64 {
	cutoff := d.now().Add(-d.config.ExclusionWindow)

	if !latest.Timestamp.After(cutoff) {
		return latest.Number
	}

	excluded := uint64(latest.Timestamp.Sub(cutoff)/d.config.BlockTime) + 1

	if excluded >= latest.Number {
		return 0
	}

	return latest.Number - excluded
}
