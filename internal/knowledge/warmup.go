package knowledge

import (
	"context"
	"time"

	"github.com/harrison/helmsman/internal/bayes"
	"github.com/harrison/helmsman/internal/conflict"
	"github.com/harrison/helmsman/internal/logger"
	"github.com/harrison/helmsman/internal/pattern"
)

// WarmupStats reports what a cold-start reload recovered.
type WarmupStats struct {
	Patterns          int
	Failures          int
	Conflicts         int
	CalibrationPoints int
	Elapsed           time.Duration
}

// Warmup reloads persisted history into the in-memory components on
// cold start. Each table loads independently; a failing table is logged
// and skipped so partial history still warms the engine.
func Warmup(ctx context.Context, kstore *Store, pstore *pattern.Store,
	detector *conflict.Detector, curve *bayes.Curve, retention time.Duration, log logger.Logger) WarmupStats {
	if log == nil {
		log = logger.Nop{}
	}
	start := time.Now()
	stats := WarmupStats{}
	since := time.Now().Add(-retention)

	if pstore != nil {
		patterns, err := kstore.LoadPatterns(ctx, since)
		if err != nil {
			log.Warnf("warmup: patterns unavailable: %v", err)
		} else {
			for _, p := range patterns {
				pstore.Record(p)
			}
			stats.Patterns = len(patterns)
		}

		failures, err := kstore.LoadFailures(ctx, since)
		if err != nil {
			log.Warnf("warmup: failures unavailable: %v", err)
		} else {
			for _, fc := range failures {
				pstore.RecordFailure(fc)
			}
			stats.Failures = len(failures)
		}
	}

	if detector != nil {
		conflicts, err := kstore.LoadConflicts(ctx)
		if err != nil {
			log.Warnf("warmup: conflict patterns unavailable: %v", err)
		} else {
			for _, cp := range conflicts {
				detector.Restore(cp)
			}
			stats.Conflicts = len(conflicts)
		}
	}

	if curve != nil {
		points, err := kstore.LoadCalibrationPoints(ctx, 500)
		if err != nil {
			log.Warnf("warmup: calibration points unavailable: %v", err)
		} else {
			for _, p := range points {
				curve.Observe(p.Predicted, p.Success)
			}
			curve.Rebuild()
			stats.CalibrationPoints = len(points)
		}
	}

	stats.Elapsed = time.Since(start)
	log.Infof("warmup: %d patterns, %d failures, %d conflicts, %d calibration points in %s",
		stats.Patterns, stats.Failures, stats.Conflicts, stats.CalibrationPoints, stats.Elapsed.Round(time.Millisecond))
	return stats
}
