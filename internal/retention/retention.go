// Package retention hard-deletes tombstoned substitution records after
// a configured grace period, on a cron schedule.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"personaproxy/pkg/config"
	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
	"personaproxy/pkg/state"
	"personaproxy/pkg/store"
)

const defaultMinPeriod = 24 * time.Hour

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult, st *store.Store) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// Stable folder under the DB path for the run lock and artifacts.
	retentionPath := filepath.Join(eff.DBPath, "state", "retention")
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", zap.String("path", retentionPath), zap.Error(err))
		return nil, err
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", zap.String("cron", ret.Cron))
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	if _, err := resolvePeriod(ret); err != nil {
		return nil, err
	}

	logger.Info("retention_enabled", zap.String("cron", cronExpr), zap.String("period", ret.Period), zap.String("path", retentionPath))
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, st, retentionPath, cronExpr)
	return cancel, nil
}

// resolvePeriod parses and clamps the configured grace period. Periods
// shorter than min_period (default 24h) are rejected to guard against a
// typo wiping fresh tombstones.
func resolvePeriod(ret config.RetentionConfig) (time.Duration, error) {
	period, err := time.ParseDuration(strings.TrimSpace(ret.Period))
	if err != nil {
		return 0, fmt.Errorf("invalid retention period %q: %w", ret.Period, err)
	}
	min := defaultMinPeriod
	if ret.MinPeriod != "" {
		if m, err := time.ParseDuration(strings.TrimSpace(ret.MinPeriod)); err == nil {
			min = m
		}
	}
	if period < min {
		return 0, fmt.Errorf("retention period %s below minimum %s", period, min)
	}
	return period, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, st *store.Store, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := RunOnce(ctx, eff, st, retentionPath); err != nil {
				logger.Error("retention_run_error", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge pass: every tombstoned substitution
// record whose deletion timestamp is older than the grace period loses
// all three of its rows. A lock file under the retention path keeps
// concurrent passes from overlapping.
func RunOnce(ctx context.Context, eff config.EffectiveConfigResult, st *store.Store, retentionPath string) error {
	ret := eff.Config.Retention
	if ret.Paused {
		logger.Info("retention_paused")
		return nil
	}
	period, err := resolvePeriod(ret)
	if err != nil {
		return err
	}

	lockPath := filepath.Join(retentionPath, "run.lock")
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			logger.Warn("retention_run_locked", zap.String("path", lockPath))
			return nil
		}
		return err
	}
	fmt.Fprintf(lock, "pid=%d time=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	lock.Close()
	defer os.Remove(lockPath)

	cutoff := time.Now().Add(-period).UnixMilli()
	batchSize := ret.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	sleep := time.Duration(ret.BatchSleepMs) * time.Millisecond

	start := time.Now()
	var scanned, purged int
	var batch []*models.ProxiedMessage

	flush := func() error {
		for _, pm := range batch {
			if ret.DryRun {
				logger.Info("retention_would_purge", zap.String("original", pm.OriginalID), zap.Int64("deleted_ts", pm.DeletedTS))
				continue
			}
			if err := st.DeleteProxiedRows(pm); err != nil {
				return err
			}
			purged++
		}
		batch = batch[:0]
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	err = st.ScanPrefix("msg:orig:", func(_ string, v []byte) bool {
		var pm models.ProxiedMessage
		if json.Unmarshal(v, &pm) != nil {
			return true
		}
		scanned++
		if pm.Deleted && pm.DeletedTS > 0 && pm.DeletedTS < cutoff {
			cp := pm
			batch = append(batch, &cp)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					logger.Error("retention_batch_failed", zap.Error(err))
					return false
				}
			}
		}
		return ctx.Err() == nil
	})
	if err == nil && len(batch) > 0 {
		err = flush()
	}
	if err != nil {
		return err
	}

	logger.Info("retention_run_complete",
		zap.Int("scanned", scanned),
		zap.Int("purged", purged),
		zap.Bool("dry_run", ret.DryRun),
		zap.Duration("took", time.Since(start)))
	writeRunSummary(retentionPath, scanned, purged, ret.DryRun, start)
	return nil
}

// writeRunSummary records the last pass for operators, under the
// artifact root when one is configured and next to the lock otherwise.
func writeRunSummary(retentionPath string, scanned, purged int, dryRun bool, start time.Time) {
	path := state.ArtifactPath("retention", "last_run.json")
	if path == "" {
		path = filepath.Join(retentionPath, "last_run.json")
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		logger.Warn("retention_summary_dir_failed", zap.String("path", path), zap.Error(err))
		return
	}
	summary := map[string]any{
		"time":    start.UTC().Format(time.RFC3339),
		"scanned": scanned,
		"purged":  purged,
		"dry_run": dryRun,
		"took_ms": time.Since(start).Milliseconds(),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		logger.Warn("retention_summary_write_failed", zap.String("path", path), zap.Error(err))
	}
}
