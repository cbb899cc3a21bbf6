package proxy

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"personaproxy/pkg/ids"
	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
	"personaproxy/pkg/store"
)

// RecordSwitch appends a switch to the owner's ledger. The persona
// list is ordered and may be empty (a switch-out). ts of zero means
// now. The ledger is append-ordered by timestamp; a backdated switch
// older than the current front is rejected.
func (e *Engine) RecordSwitch(ownerID string, personaIDs []string, ts int64) (*models.SwitchRecord, error) {
	if _, err := e.store.GetOwner(ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown owner %q", ErrValidation, ownerID)
		}
		return nil, classify(err)
	}
	seen := make(map[string]bool, len(personaIDs))
	for _, pid := range personaIDs {
		if seen[pid] {
			return nil, fmt.Errorf("%w: duplicate persona %q in switch", ErrValidation, pid)
		}
		seen[pid] = true
		if _, err := e.store.GetPersona(ownerID, pid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown persona %q", ErrValidation, pid)
			}
			return nil, classify(err)
		}
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	latest, err := e.store.LatestSwitches(ownerID, 1)
	if err != nil {
		return nil, classify(err)
	}
	if len(latest) > 0 && ts < latest[0].TS {
		return nil, fmt.Errorf("%w: switch predates current front", ErrConsistency)
	}

	existing, err := e.store.ListSwitchIDs(ownerID)
	if err != nil {
		return nil, classify(err)
	}
	id, err := ids.AllocateID(existing)
	if err != nil {
		return nil, classify(err)
	}
	rec := &models.SwitchRecord{ID: id, Owner: ownerID, Personas: personaIDs, TS: ts}
	if err := e.store.AppendSwitch(rec); err != nil {
		return nil, classify(err)
	}
	logger.Info("switch_recorded",
		zap.String("owner", ownerID),
		zap.String("switch", id),
		zap.Strings("personas", personaIDs))
	return rec, nil
}

// LatestSwitch returns the owner's current front, or ErrNoSwitch when
// the ledger is empty.
func (e *Engine) LatestSwitch(ownerID string) (*models.SwitchRecord, error) {
	recent, err := e.store.LatestSwitches(ownerID, 1)
	if err != nil {
		return nil, classify(err)
	}
	if len(recent) == 0 {
		return nil, ErrNoSwitch
	}
	return recent[0], nil
}

// MoveLatestSwitch re-times the most recent switch. The new timestamp
// must not cross behind the previous switch, which would reorder the
// ledger. The latest record is re-read immediately before the rewrite;
// a concurrent append can still slip in between, which is accepted
// rather than held off with a transaction.
func (e *Engine) MoveLatestSwitch(ownerID string, ts int64) (*models.SwitchRecord, error) {
	recent, err := e.store.LatestSwitches(ownerID, 2)
	if err != nil {
		return nil, classify(err)
	}
	if len(recent) == 0 {
		return nil, ErrNoSwitch
	}
	if len(recent) == 2 && ts < recent[1].TS {
		return nil, fmt.Errorf("%w: move would reorder the ledger", ErrConsistency)
	}
	rec := recent[0]
	if err := e.store.RewriteSwitchTS(rec, ts); err != nil {
		return nil, classify(err)
	}
	rec.TS = ts
	logger.Info("switch_moved", zap.String("owner", ownerID), zap.String("switch", rec.ID), zap.Int64("ts", ts))
	return rec, nil
}

// DeleteLatestSwitch pops the most recent switch, restoring the
// previous one as front.
func (e *Engine) DeleteLatestSwitch(ownerID string) error {
	recent, err := e.store.LatestSwitches(ownerID, 1)
	if err != nil {
		return classify(err)
	}
	if len(recent) == 0 {
		return ErrNoSwitch
	}
	if err := e.store.DeleteSwitchRecord(recent[0]); err != nil {
		return classify(err)
	}
	logger.Info("switch_deleted", zap.String("owner", ownerID), zap.String("switch", recent[0].ID))
	return nil
}
