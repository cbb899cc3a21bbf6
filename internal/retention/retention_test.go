package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"personaproxy/pkg/config"
	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
	"personaproxy/pkg/store"
)

func TestMain(m *testing.M) {
	logger.InitWithLevel("error")
	os.Exit(m.Run())
}

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}
	now := time.Now().UnixMilli()
	rows := []struct {
		orig, new string
		deletedTS int64 // 0 = live
	}{
		{"o-live", "n-live", 0},
		{"o-fresh", "n-fresh", now - int64(time.Hour/time.Millisecond)},
		{"o-old", "n-old", now - int64(60*24*time.Hour/time.Millisecond)},
	}
	for i, r := range rows {
		pm := &models.ProxiedMessage{
			OriginalID: r.orig, MessageID: r.new, Venue: "v",
			Owner: "aaaaa", Persona: "aaaaa", TS: int64(1000 + i), Seq: s.NextSeq(),
		}
		if err := s.ApplySubstitution(pm, p); err != nil {
			t.Fatalf("apply: %v", err)
		}
		if r.deletedTS != 0 {
			pm.Deleted = true
			pm.DeletedTS = r.deletedTS
			if err := s.UpdateProxied(pm); err != nil {
				t.Fatalf("tombstone: %v", err)
			}
		}
	}
	return s
}

func eff(t *testing.T, ret config.RetentionConfig) config.EffectiveConfigResult {
	t.Helper()
	cfg := &config.Config{Retention: ret}
	return config.EffectiveConfigResult{Config: cfg, DBPath: t.TempDir(), Source: "config"}
}

func TestRunOncePurgesExpiredTombstones(t *testing.T) {
	s := seedStore(t)
	e := eff(t, config.RetentionConfig{Enabled: true, Period: "720h"})
	dir := t.TempDir()

	if err := RunOnce(context.Background(), e, s, dir); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The expired tombstone is gone, the fresh one and the live row stay.
	if _, err := s.GetProxiedByOriginal("o-old"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired row err = %v", err)
	}
	if _, err := s.GetProxiedByOriginal("o-fresh"); err != nil {
		t.Fatalf("fresh tombstone purged: %v", err)
	}
	if _, err := s.GetProxiedByOriginal("o-live"); err != nil {
		t.Fatalf("live row purged: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "last_run.json")); err != nil {
		t.Fatalf("run summary missing: %v", err)
	}
}

func TestRunOnceDryRunDeletesNothing(t *testing.T) {
	s := seedStore(t)
	e := eff(t, config.RetentionConfig{Enabled: true, Period: "720h", DryRun: true})

	if err := RunOnce(context.Background(), e, s, t.TempDir()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := s.GetProxiedByOriginal("o-old"); err != nil {
		t.Fatalf("dry run deleted a row: %v", err)
	}
}

func TestPeriodBelowMinimumRejected(t *testing.T) {
	s := seedStore(t)
	e := eff(t, config.RetentionConfig{Enabled: true, Period: "1h"})
	if err := RunOnce(context.Background(), e, s, t.TempDir()); err == nil {
		t.Fatal("short period not rejected")
	}
	// An explicit lower minimum allows it.
	e = eff(t, config.RetentionConfig{Enabled: true, Period: "1h", MinPeriod: "30m"})
	if err := RunOnce(context.Background(), e, s, t.TempDir()); err != nil {
		t.Fatalf("run with lowered minimum: %v", err)
	}
}

func TestStartDisabled(t *testing.T) {
	s := seedStore(t)
	e := eff(t, config.RetentionConfig{Enabled: false})
	cancel, err := Start(context.Background(), e, s)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
}

func TestStartRejectsBadCron(t *testing.T) {
	s := seedStore(t)
	e := eff(t, config.RetentionConfig{Enabled: true, Period: "720h", Cron: "not a cron"})
	if _, err := Start(context.Background(), e, s); err == nil {
		t.Fatal("invalid cron accepted")
	}
}
