package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
)

func TestMain(m *testing.M) {
	logger.InitWithLevel("error")
	os.Exit(m.Run())
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func TestOwnerRoundTrip(t *testing.T) {
	s := openStore(t)
	o := &models.Owner{ID: "aaaaa", Name: "Test", Mode: models.AutoproxyOff, CreatedTS: 42}
	if err := s.SaveOwner(o); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetOwner("aaaaa")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Test" || got.CreatedTS != 42 {
		t.Fatalf("got %+v", got)
	}
	if _, err := s.GetOwner("zzzzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing owner err = %v", err)
	}

	idsList, err := s.ListOwnerIDs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(idsList) != 1 || idsList[0] != "aaaaa" {
		t.Fatalf("ids = %v", idsList)
	}
}

func TestPersonaListOrderedByID(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"aaaac", "aaaaa", "aaaab"} {
		p := &models.Persona{ID: id, Owner: "aaaaa", Name: "P " + id}
		if err := s.SavePersona(p); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	list, err := s.ListPersonas("aaaaa")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	for i, want := range []string{"aaaaa", "aaaab", "aaaac"} {
		if list[i].ID != want {
			t.Fatalf("list[%d] = %s, want %s", i, list[i].ID, want)
		}
	}
	// Other owners see nothing.
	other, err := s.ListPersonas("aaaab")
	if err != nil || len(other) != 0 {
		t.Fatalf("foreign list = %v, %v", other, err)
	}
}

func TestDeletePersonaCascadesOverrides(t *testing.T) {
	s := openStore(t)
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}
	if err := s.SavePersona(p); err != nil {
		t.Fatalf("save persona: %v", err)
	}
	ov := &models.VenueOverride{Venue: "v1", Owner: "aaaaa", Persona: "aaaaa", Name: "Masked"}
	if err := s.SaveOverride(ov); err != nil {
		t.Fatalf("save override: %v", err)
	}
	if err := s.DeletePersona("aaaaa", "aaaaa"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPersona("aaaaa", "aaaaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("persona err = %v", err)
	}
	if _, err := s.GetOverride("aaaaa", "v1", "aaaaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("override err = %v", err)
	}
}

func TestSwitchLedgerOrdering(t *testing.T) {
	s := openStore(t)
	for i, ts := range []int64{1000, 3000, 2000} {
		sw := &models.SwitchRecord{ID: string(rune('a'+i)) + "aaaa", Owner: "aaaaa", TS: ts}
		if err := s.AppendSwitch(sw); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recent, err := s.LatestSwitches("aaaaa", 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d", len(recent))
	}
	// Newest first, ordered by timestamp not insertion.
	if recent[0].TS != 3000 || recent[1].TS != 2000 {
		t.Fatalf("order = %d, %d", recent[0].TS, recent[1].TS)
	}

	all, err := s.LatestSwitches("aaaaa", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %v, %v", all, err)
	}
}

func TestRewriteSwitchTS(t *testing.T) {
	s := openStore(t)
	sw := &models.SwitchRecord{ID: "aaaaa", Owner: "aaaaa", Personas: []string{"aaaab"}, TS: 1000}
	if err := s.AppendSwitch(sw); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.RewriteSwitchTS(sw, 5000); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	recent, err := s.LatestSwitches("aaaaa", 10)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("len = %d, old key not removed", len(recent))
	}
	if recent[0].TS != 5000 || recent[0].ID != "aaaaa" {
		t.Fatalf("rewritten = %+v", recent[0])
	}
}

func TestApplySubstitutionWritesAllRows(t *testing.T) {
	s := openStore(t)
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P", MessageCount: 1}
	pm := &models.ProxiedMessage{
		OriginalID:  "orig-1",
		MessageID:   "new-1",
		Venue:       "v",
		Owner:       "aaaaa",
		Persona:     "aaaaa",
		DisplayName: "P",
		TS:          time.Now().UnixMilli(),
		Seq:         s.NextSeq(),
	}
	if err := s.ApplySubstitution(pm, p); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := s.GetProxiedByOriginal("orig-1"); err != nil {
		t.Fatalf("by original: %v", err)
	}
	if _, err := s.GetProxiedByNew("new-1"); err != nil {
		t.Fatalf("by new: %v", err)
	}
	got, err := s.GetProxiedEither("orig-1")
	if err != nil || got.MessageID != "new-1" {
		t.Fatalf("either = %+v, %v", got, err)
	}

	stored, err := s.GetPersona("aaaaa", "aaaaa")
	if err != nil {
		t.Fatalf("persona: %v", err)
	}
	if stored.MessageCount != 1 {
		t.Fatalf("count = %d", stored.MessageCount)
	}

	l, err := s.GetLatch("aaaaa", "v")
	if err != nil {
		t.Fatalf("latch: %v", err)
	}
	if l.Persona != "aaaaa" {
		t.Fatalf("latch = %+v", l)
	}

	latest, err := s.LatestProxiedInVenue("v", "aaaaa")
	if err != nil || latest.MessageID != "new-1" {
		t.Fatalf("venue index = %+v, %v", latest, err)
	}

	if s.DiskUsageBytes() == 0 {
		t.Fatal("disk usage reads zero after writes")
	}
}

func TestApplySubstitutionStampsMilliTS(t *testing.T) {
	s := openStore(t)
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}
	pm := &models.ProxiedMessage{
		OriginalID: "orig-1", MessageID: "new-1", Venue: "v",
		Owner: "aaaaa", Persona: "aaaaa",
	}
	before := time.Now().UnixMilli()
	if err := s.ApplySubstitution(pm, p); err != nil {
		t.Fatalf("apply: %v", err)
	}
	after := time.Now().UnixMilli()
	// A nano-scale stamp here would sort after every milli-scale key in
	// the venue recency index.
	if pm.TS < before || pm.TS > after {
		t.Fatalf("stamped ts = %d, want within [%d, %d]", pm.TS, before, after)
	}
	if pm.Seq == 0 {
		t.Fatal("seq not assigned")
	}
}

func TestLatestProxiedInVenueSkipsDeletedAndForeign(t *testing.T) {
	s := openStore(t)
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}
	mk := func(orig, new, owner string, ts int64) *models.ProxiedMessage {
		return &models.ProxiedMessage{
			OriginalID: orig, MessageID: new, Venue: "v", Owner: owner,
			Persona: "aaaaa", TS: ts, Seq: s.NextSeq(),
		}
	}
	if err := s.ApplySubstitution(mk("o1", "n1", "aaaaa", 1000), p); err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if err := s.ApplySubstitution(mk("o2", "n2", "bbbbb", 2000), p); err != nil {
		t.Fatalf("apply 2: %v", err)
	}
	pm3 := mk("o3", "n3", "aaaaa", 3000)
	if err := s.ApplySubstitution(pm3, p); err != nil {
		t.Fatalf("apply 3: %v", err)
	}
	pm3.Deleted = true
	pm3.DeletedTS = 4000
	if err := s.UpdateProxied(pm3); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	latest, err := s.LatestProxiedInVenue("v", "aaaaa")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.MessageID != "n1" {
		t.Fatalf("latest = %+v, want n1", latest)
	}
}

func TestRemapProxied(t *testing.T) {
	s := openStore(t)
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}
	pm := &models.ProxiedMessage{
		OriginalID: "o1", MessageID: "n1", Venue: "v", Owner: "aaaaa",
		Persona: "aaaaa", TS: 1000, Seq: s.NextSeq(),
	}
	if err := s.ApplySubstitution(pm, p); err != nil {
		t.Fatalf("apply: %v", err)
	}
	pm.MessageID = "n2"
	pm.Persona = "aaaab"
	if err := s.RemapProxied(pm, "n1"); err != nil {
		t.Fatalf("remap: %v", err)
	}
	if _, err := s.GetProxiedByNew("n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old row err = %v", err)
	}
	got, err := s.GetProxiedByNew("n2")
	if err != nil || got.Persona != "aaaab" {
		t.Fatalf("remapped = %+v, %v", got, err)
	}
	byOrig, err := s.GetProxiedByOriginal("o1")
	if err != nil || byOrig.MessageID != "n2" {
		t.Fatalf("by original = %+v, %v", byOrig, err)
	}
}

func TestDeleteProxiedRows(t *testing.T) {
	s := openStore(t)
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}
	pm := &models.ProxiedMessage{
		OriginalID: "o1", MessageID: "n1", Venue: "v", Owner: "aaaaa",
		Persona: "aaaaa", TS: 1000, Seq: s.NextSeq(),
	}
	if err := s.ApplySubstitution(pm, p); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.DeleteProxiedRows(pm); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetProxiedByOriginal("o1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orig err = %v", err)
	}
	if _, err := s.GetProxiedByNew("n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("new err = %v", err)
	}
	if _, err := s.LatestProxiedInVenue("v", "aaaaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("venue index err = %v", err)
	}
}

func TestLatchRoundTrip(t *testing.T) {
	s := openStore(t)
	if _, err := s.GetLatch("aaaaa", "v"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty latch err = %v", err)
	}
	if err := s.SetLatch(&Latch{Owner: "aaaaa", Venue: "v", Persona: "aaaab", TS: 10}); err != nil {
		t.Fatalf("set: %v", err)
	}
	l, err := s.GetLatch("aaaaa", "v")
	if err != nil || l.Persona != "aaaab" {
		t.Fatalf("get = %+v, %v", l, err)
	}
	if err := s.ClearLatch("aaaaa", "v"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.GetLatch("aaaaa", "v"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cleared latch err = %v", err)
	}
}

func TestDeleteOwnerCascades(t *testing.T) {
	s := openStore(t)
	o := &models.Owner{ID: "aaaaa", Name: "Test", Mode: models.AutoproxyLatch}
	if err := s.SaveOwner(o); err != nil {
		t.Fatalf("save owner: %v", err)
	}
	if err := s.SavePersona(&models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "P"}); err != nil {
		t.Fatalf("save persona: %v", err)
	}
	if err := s.AppendSwitch(&models.SwitchRecord{ID: "aaaaa", Owner: "aaaaa", TS: 1}); err != nil {
		t.Fatalf("append switch: %v", err)
	}
	if err := s.SetLatch(&Latch{Owner: "aaaaa", Venue: "v", Persona: "aaaaa", TS: 1}); err != nil {
		t.Fatalf("set latch: %v", err)
	}

	if err := s.DeleteOwner("aaaaa"); err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	if _, err := s.GetOwner("aaaaa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("owner err = %v", err)
	}
	personas, err := s.ListPersonas("aaaaa")
	if err != nil || len(personas) != 0 {
		t.Fatalf("personas = %v, %v", personas, err)
	}
	recent, err := s.LatestSwitches("aaaaa", 10)
	if err != nil || len(recent) != 0 {
		t.Fatalf("switches = %v, %v", recent, err)
	}
	if _, err := s.GetLatch("aaaaa", "v"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("latch err = %v", err)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveOwner(&models.Owner{ID: "aaaaa", Name: "Keep", Mode: models.AutoproxyOff}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	o, err := s2.GetOwner("aaaaa")
	if err != nil || o.Name != "Keep" {
		t.Fatalf("after reopen = %+v, %v", o, err)
	}
}
