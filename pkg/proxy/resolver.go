package proxy

import (
	"errors"

	"go.uber.org/zap"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/models"
	"personaproxy/pkg/store"
)

// effectiveMode returns the autoproxy mode in force for the owner in a
// venue: a per-venue override wins, otherwise the owner-wide setting.
func (e *Engine) effectiveMode(owner *models.Owner, venue string) (models.AutoproxyMode, bool, error) {
	vs, err := e.store.GetVenueSettings(owner.ID, venue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return owner.Mode, false, nil
		}
		return models.AutoproxyOff, false, err
	}
	if vs.ProxyDisabled {
		return models.AutoproxyOff, true, nil
	}
	if vs.Mode != "" {
		return vs.Mode, false, nil
	}
	return owner.Mode, false, nil
}

// resolveAuto picks a persona for an untagged message, or nil when the
// message should pass through untouched.
func (e *Engine) resolveAuto(owner *models.Owner, venue string, mode models.AutoproxyMode, personas []*models.Persona) (*models.Persona, error) {
	switch mode {
	case models.AutoproxyOff, "":
		return nil, nil
	case models.AutoproxyMember:
		if owner.FixedPersona == "" {
			return nil, nil
		}
		p := findPersona(personas, owner.FixedPersona)
		if p == nil {
			// Fixed persona was deleted; mode degrades to off.
			logger.Warn("autoproxy_member_missing", zap.String("owner", owner.ID), zap.String("persona", owner.FixedPersona))
		}
		return p, nil
	case models.AutoproxyFront:
		return e.currentFront(owner, personas)
	case models.AutoproxyLatch:
		return e.currentLatch(owner, venue, personas)
	}
	return nil, nil
}

// currentFront reads the most recent switch and returns its first
// listed persona. An empty switch (switch-out) or empty ledger means
// nobody fronting.
func (e *Engine) currentFront(owner *models.Owner, personas []*models.Persona) (*models.Persona, error) {
	recent, err := e.store.LatestSwitches(owner.ID, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 || len(recent[0].Personas) == 0 {
		return nil, nil
	}
	return findPersona(personas, recent[0].Personas[0]), nil
}

// currentLatch returns the last persona that spoke in the venue. When
// no latch row exists yet the venue index seeds one, so a restart does
// not forget who spoke last.
func (e *Engine) currentLatch(owner *models.Owner, venue string, personas []*models.Persona) (*models.Persona, error) {
	l, err := e.store.GetLatch(owner.ID, venue)
	if err == nil {
		return findPersona(personas, l.Persona), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	pm, err := e.store.LatestProxiedInVenue(venue, owner.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	p := findPersona(personas, pm.Persona)
	if p != nil {
		if serr := e.store.SetLatch(&store.Latch{Owner: owner.ID, Venue: venue, Persona: p.ID, TS: pm.TS}); serr != nil {
			logger.Warn("latch_seed_failed", zap.String("owner", owner.ID), zap.String("venue", venue), zap.Error(serr))
		}
	}
	return p, nil
}

func findPersona(personas []*models.Persona, id string) *models.Persona {
	for _, p := range personas {
		if p.ID == id {
			return p
		}
	}
	return nil
}
