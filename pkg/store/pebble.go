package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Latch remembers the last persona that spoke for an (owner, venue)
// pair. Updated on every successful substitution regardless of mode.
type Latch struct {
	Owner   string `json:"owner"`
	Venue   string `json:"venue"`
	Persona string `json:"persona"`
	TS      int64  `json:"ts"`
}

// Store is the pebble-backed repository for the engine's record types.
// One instance is constructed at startup and handed to everything that
// needs persistence.
type Store struct {
	db   *pebble.DB
	path string
	// seq reduces venue-index key collisions when multiple substitutions
	// share the same millisecond timestamp.
	seq uint64
}

// Open opens (or creates) a pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("pebble_opened", zap.String("path", path))
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Log.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

func (s *Store) set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Log.Error("store_set_failed", zap.String("key", key), zap.Error(err))
		return err
	}
	recordOp("set")
	return nil
}

func (s *Store) get(key string, out any) error {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		logger.Log.Error("store_get_failed", zap.String("key", key), zap.Error(err))
		return err
	}
	defer closer.Close()
	recordOp("get")
	return json.Unmarshal(v, out)
}

func (s *Store) delete(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Log.Error("store_delete_failed", zap.String("key", key), zap.Error(err))
		return err
	}
	recordOp("delete")
	return nil
}

// prefixScan calls fn with a copy of each value under prefix, in key
// order, until fn returns false.
func (s *Store) prefixScan(prefix string, fn func(key string, value []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		if !fn(string(iter.Key()), v) {
			break
		}
	}
	return iter.Error()
}

// SaveOwner writes the owner record.
func (s *Store) SaveOwner(o *models.Owner) error {
	if err := s.set(ownerKey(o.ID), o); err != nil {
		return err
	}
	logger.Log.Debug("owner_saved", zap.String("owner", o.ID))
	return nil
}

// GetOwner loads an owner record by id.
func (s *Store) GetOwner(id string) (*models.Owner, error) {
	var o models.Owner
	if err := s.get(ownerKey(id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// DeleteOwner removes an owner and everything stored under it.
func (s *Store) DeleteOwner(id string) error {
	var keys []string
	if err := s.prefixScan(ownerPrefix+id+":", func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		return err
	}
	b := s.db.NewBatch()
	for _, k := range keys {
		_ = b.Delete([]byte(k), nil)
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return err
	}
	logger.Log.Info("owner_deleted", zap.String("owner", id), zap.Int("keys", len(keys)))
	return nil
}

// ListOwnerIDs returns all allocated owner ids in key order.
func (s *Store) ListOwnerIDs() ([]string, error) {
	var out []string
	err := s.prefixScan(ownerPrefix, func(k string, v []byte) bool {
		if strings.HasSuffix(k, ":meta") {
			var o models.Owner
			if json.Unmarshal(v, &o) == nil && o.ID != "" {
				out = append(out, o.ID)
			}
		}
		return true
	})
	return out, err
}

// SavePersona writes a persona record under its owner.
func (s *Store) SavePersona(p *models.Persona) error {
	if err := s.set(personaKey(p.Owner, p.ID), p); err != nil {
		return err
	}
	logger.Log.Debug("persona_saved", zap.String("owner", p.Owner), zap.String("persona", p.ID))
	return nil
}

// GetPersona loads one persona of an owner.
func (s *Store) GetPersona(owner, id string) (*models.Persona, error) {
	var p models.Persona
	if err := s.get(personaKey(owner, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPersonas returns all personas of an owner in id order, which is
// registration order while the id space has no reclaimed gaps.
func (s *Store) ListPersonas(owner string) ([]*models.Persona, error) {
	var out []*models.Persona
	err := s.prefixScan(personaPrefix(owner), func(_ string, v []byte) bool {
		var p models.Persona
		if json.Unmarshal(v, &p) == nil {
			out = append(out, &p)
		}
		return true
	})
	return out, err
}

// DeletePersona removes a persona and cascades to its venue overrides.
// The persona's tags live inside the record and go with it.
func (s *Store) DeletePersona(owner, id string) error {
	if _, err := s.GetPersona(owner, id); err != nil {
		return err
	}
	var overrideKeys []string
	if err := s.prefixScan(ownerPrefix+owner+":override:", func(k string, v []byte) bool {
		var ov models.VenueOverride
		if json.Unmarshal(v, &ov) == nil && ov.Persona == id {
			overrideKeys = append(overrideKeys, k)
		}
		return true
	}); err != nil {
		return err
	}
	b := s.db.NewBatch()
	_ = b.Delete([]byte(personaKey(owner, id)), nil)
	for _, k := range overrideKeys {
		_ = b.Delete([]byte(k), nil)
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return err
	}
	logger.Log.Info("persona_deleted", zap.String("owner", owner), zap.String("persona", id),
		zap.Int("overrides", len(overrideKeys)))
	return nil
}

// SaveOverride writes a per-venue persona override.
func (s *Store) SaveOverride(ov *models.VenueOverride) error {
	return s.set(overrideKey(ov.Owner, ov.Venue, ov.Persona), ov)
}

// GetOverride loads the override for (owner, venue, persona).
func (s *Store) GetOverride(owner, venue, persona string) (*models.VenueOverride, error) {
	var ov models.VenueOverride
	if err := s.get(overrideKey(owner, venue, persona), &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// DeleteOverride removes one override row.
func (s *Store) DeleteOverride(owner, venue, persona string) error {
	return s.delete(overrideKey(owner, venue, persona))
}

// ListOverrides returns all overrides an owner has in a venue.
func (s *Store) ListOverrides(owner, venue string) ([]*models.VenueOverride, error) {
	var out []*models.VenueOverride
	err := s.prefixScan(overridePrefix(owner, venue), func(_ string, v []byte) bool {
		var ov models.VenueOverride
		if json.Unmarshal(v, &ov) == nil {
			out = append(out, &ov)
		}
		return true
	})
	return out, err
}

// SaveVenueSettings writes per-(owner, venue) engine settings.
func (s *Store) SaveVenueSettings(vs *models.VenueSettings) error {
	return s.set(venueSettingsKey(vs.Owner, vs.Venue), vs)
}

// GetVenueSettings loads settings for (owner, venue).
func (s *Store) GetVenueSettings(owner, venue string) (*models.VenueSettings, error) {
	var vs models.VenueSettings
	if err := s.get(venueSettingsKey(owner, venue), &vs); err != nil {
		return nil, err
	}
	return &vs, nil
}

// AppendSwitch writes one switch record. The key embeds the timestamp so
// the ledger iterates in time order.
func (s *Store) AppendSwitch(sw *models.SwitchRecord) error {
	if err := s.set(SwitchKey(sw.Owner, sw.TS, sw.ID), sw); err != nil {
		return err
	}
	logger.Log.Info("switch_recorded", zap.String("owner", sw.Owner), zap.String("switch", sw.ID),
		zap.Int("personas", len(sw.Personas)))
	return nil
}

// LatestSwitches returns up to n switch records newest-first.
func (s *Store) LatestSwitches(owner string, n int) ([]*models.SwitchRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	pfx := []byte(switchPrefix(owner))
	upper := append(append([]byte(nil), pfx...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: pfx, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []*models.SwitchRecord
	for ok := iter.Last(); ok && len(out) < n; ok = iter.Prev() {
		var sw models.SwitchRecord
		if json.Unmarshal(iter.Value(), &sw) == nil {
			out = append(out, &sw)
		}
	}
	return out, iter.Error()
}

// ListSwitchIDs returns all switch ids recorded for an owner.
func (s *Store) ListSwitchIDs(owner string) ([]string, error) {
	var out []string
	err := s.prefixScan(switchPrefix(owner), func(_ string, v []byte) bool {
		var sw models.SwitchRecord
		if json.Unmarshal(v, &sw) == nil {
			out = append(out, sw.ID)
		}
		return true
	})
	return out, err
}

// DeleteSwitchRecord removes one switch record.
func (s *Store) DeleteSwitchRecord(sw *models.SwitchRecord) error {
	if err := s.delete(SwitchKey(sw.Owner, sw.TS, sw.ID)); err != nil {
		return err
	}
	logger.Log.Info("switch_deleted", zap.String("owner", sw.Owner), zap.String("switch", sw.ID))
	return nil
}

// RewriteSwitchTS moves a switch record to a new timestamp. The old and
// new keys are swapped in one batch so readers never see both.
func (s *Store) RewriteSwitchTS(sw *models.SwitchRecord, newTS int64) error {
	oldKey := SwitchKey(sw.Owner, sw.TS, sw.ID)
	moved := *sw
	moved.TS = newTS
	data, err := json.Marshal(&moved)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	_ = b.Delete([]byte(oldKey), nil)
	_ = b.Set([]byte(SwitchKey(sw.Owner, newTS, sw.ID)), data, nil)
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return err
	}
	sw.TS = newTS
	logger.Log.Info("switch_moved", zap.String("owner", sw.Owner), zap.String("switch", sw.ID),
		zap.Int64("ts", newTS))
	return nil
}

// NextSeq returns a fresh venue-index sequence number.
func (s *Store) NextSeq() uint64 { return atomic.AddUint64(&s.seq, 1) }

// ApplySubstitution atomically records a substitution: the message map
// under both platform ids, the venue recency index, the persona record
// with its bumped counter, and the latch row. Either all land or none
// do, so a recorded substitution always has a counter increment behind
// it.
func (s *Store) ApplySubstitution(pm *models.ProxiedMessage, p *models.Persona) error {
	if pm.TS == 0 {
		pm.TS = time.Now().UnixMilli()
	}
	if pm.Seq == 0 {
		pm.Seq = s.NextSeq()
	}
	pmData, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("marshal proxied message: %w", err)
	}
	pData, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	latch := Latch{Owner: pm.Owner, Venue: pm.Venue, Persona: pm.Persona, TS: pm.TS}
	lData, err := json.Marshal(&latch)
	if err != nil {
		return fmt.Errorf("marshal latch: %w", err)
	}

	b := s.db.NewBatch()
	_ = b.Set([]byte(msgOrigKey(pm.OriginalID)), pmData, nil)
	_ = b.Set([]byte(msgNewKey(pm.MessageID)), pmData, nil)
	_ = b.Set([]byte(VenueIndexKey(pm.Venue, pm.TS, pm.Seq)), pmData, nil)
	_ = b.Set([]byte(personaKey(p.Owner, p.ID)), pData, nil)
	_ = b.Set([]byte(latchKey(pm.Owner, pm.Venue)), lData, nil)
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		logger.Log.Error("apply_substitution_failed", zap.String("venue", pm.Venue),
			zap.String("original", pm.OriginalID), zap.Error(err))
		return err
	}
	recordOp("substitution")
	logger.Log.Info("substitution_recorded", zap.String("venue", pm.Venue),
		zap.String("original", pm.OriginalID), zap.String("message", pm.MessageID),
		zap.String("persona", pm.Persona))
	return nil
}

// UpdateProxied rewrites an existing message-map row under all three of
// its keys. The venue-index key is reconstructed from TS and Seq.
func (s *Store) UpdateProxied(pm *models.ProxiedMessage) error {
	data, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	_ = b.Set([]byte(msgOrigKey(pm.OriginalID)), data, nil)
	_ = b.Set([]byte(msgNewKey(pm.MessageID)), data, nil)
	_ = b.Set([]byte(VenueIndexKey(pm.Venue, pm.TS, pm.Seq)), data, nil)
	return s.db.Apply(b, pebble.Sync)
}

// RemapProxied moves a row to a new substituted message id (reproxy
// reposts under a new identity). The old msg:new key is dropped in the
// same batch.
func (s *Store) RemapProxied(pm *models.ProxiedMessage, oldMessageID string) error {
	data, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	if oldMessageID != "" && oldMessageID != pm.MessageID {
		_ = b.Delete([]byte(msgNewKey(oldMessageID)), nil)
	}
	_ = b.Set([]byte(msgOrigKey(pm.OriginalID)), data, nil)
	_ = b.Set([]byte(msgNewKey(pm.MessageID)), data, nil)
	_ = b.Set([]byte(VenueIndexKey(pm.Venue, pm.TS, pm.Seq)), data, nil)
	return s.db.Apply(b, pebble.Sync)
}

// DeleteProxiedRows hard-deletes a message-map row from all three
// namespaces. Retention uses this; the pipeline only tombstones.
func (s *Store) DeleteProxiedRows(pm *models.ProxiedMessage) error {
	b := s.db.NewBatch()
	_ = b.Delete([]byte(msgOrigKey(pm.OriginalID)), nil)
	_ = b.Delete([]byte(msgNewKey(pm.MessageID)), nil)
	_ = b.Delete([]byte(VenueIndexKey(pm.Venue, pm.TS, pm.Seq)), nil)
	return s.db.Apply(b, pebble.Sync)
}

// GetProxiedByOriginal looks a row up by the original platform id.
func (s *Store) GetProxiedByOriginal(id string) (*models.ProxiedMessage, error) {
	var pm models.ProxiedMessage
	if err := s.get(msgOrigKey(id), &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

// GetProxiedByNew looks a row up by the substituted message id.
func (s *Store) GetProxiedByNew(id string) (*models.ProxiedMessage, error) {
	var pm models.ProxiedMessage
	if err := s.get(msgNewKey(id), &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

// GetProxiedEither resolves id against both namespaces, substituted id
// first.
func (s *Store) GetProxiedEither(id string) (*models.ProxiedMessage, error) {
	if pm, err := s.GetProxiedByNew(id); err == nil {
		return pm, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.GetProxiedByOriginal(id)
}

// LatestProxiedInVenue returns the newest non-deleted row an owner has
// in a venue, or ErrNotFound. Used to seed latch state on cold start.
func (s *Store) LatestProxiedInVenue(venue, owner string) (*models.ProxiedMessage, error) {
	pfx := []byte(venueIndexPrefix(venue))
	upper := append(append([]byte(nil), pfx...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: pfx, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var pm models.ProxiedMessage
		if json.Unmarshal(iter.Value(), &pm) != nil {
			continue
		}
		if pm.Deleted || pm.Owner != owner {
			continue
		}
		return &pm, nil
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

// GetLatch returns the remembered last-spoken persona for (owner, venue).
func (s *Store) GetLatch(owner, venue string) (*Latch, error) {
	var l Latch
	if err := s.get(latchKey(owner, venue), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// SetLatch overwrites the latch row for (owner, venue).
func (s *Store) SetLatch(l *Latch) error {
	return s.set(latchKey(l.Owner, l.Venue), l)
}

// ClearLatch forgets the latch for (owner, venue).
func (s *Store) ClearLatch(owner, venue string) error {
	return s.delete(latchKey(owner, venue))
}

// ListKeys returns all keys with the given prefix; an empty prefix
// returns every key. Admin tooling only.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if len(pfx) > 0 && !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}

// GetKey returns the raw value for a key.
func (s *Store) GetKey(key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// SaveKey stores a raw key/value pair. Callers must choose a safe
// namespace.
func (s *Store) SaveKey(key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

// ScanPrefix exposes prefix iteration for admin tooling (inspect,
// migrate, retention).
func (s *Store) ScanPrefix(prefix string, fn func(key string, value []byte) bool) error {
	return s.prefixScan(prefix, fn)
}
