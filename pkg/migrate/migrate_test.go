package migrate

import (
	"os"
	"testing"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
	"personaproxy/pkg/store"
)

func TestMain(m *testing.M) {
	logger.InitWithLevel("error")
	os.Exit(m.Run())
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureStampsFreshDB(t *testing.T) {
	s := openStore(t)
	if err := Ensure(s); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	raw, err := s.GetKey("meta:format_version")
	if err != nil {
		t.Fatalf("version key: %v", err)
	}
	if string(raw) != "1" {
		t.Fatalf("version = %s", raw)
	}
	// Second run is a no-op.
	if err := Ensure(s); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
}

func TestEnsureRefusesNewerFormat(t *testing.T) {
	s := openStore(t)
	if err := s.SaveKey("meta:format_version", []byte("99")); err != nil {
		t.Fatalf("seed version: %v", err)
	}
	if err := Ensure(s); err == nil {
		t.Fatal("newer format not refused")
	}
}

func TestRebuildCounters(t *testing.T) {
	s := openStore(t)
	if err := s.SaveOwner(&models.Owner{ID: "aaaaa", Mode: models.AutoproxyOff}); err != nil {
		t.Fatalf("save owner: %v", err)
	}
	// Stale counter: record says 7, rows say 2.
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P", MessageCount: 7}
	if err := s.SavePersona(p); err != nil {
		t.Fatalf("save persona: %v", err)
	}
	for i, ids := range [][2]string{{"o1", "n1"}, {"o2", "n2"}} {
		pm := &models.ProxiedMessage{
			OriginalID: ids[0], MessageID: ids[1], Venue: "v",
			Owner: "aaaaa", Persona: "aaaaa", TS: int64(1000 + i), Seq: s.NextSeq(),
		}
		if err := s.ApplySubstitution(pm, p); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	// ApplySubstitution wrote p as-is; force the stale value back.
	p.MessageCount = 7
	if err := s.SavePersona(p); err != nil {
		t.Fatalf("reset counter: %v", err)
	}

	if err := RebuildCounters(s); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	got, err := s.GetPersona("aaaaa", "aaaaa")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.MessageCount != 2 {
		t.Fatalf("count = %d, want 2", got.MessageCount)
	}
}
