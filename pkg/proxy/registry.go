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
	"personaproxy/pkg/validation"
)

// CreateOwner registers a new owner with the lowest free id.
func (e *Engine) CreateOwner(name string) (*models.Owner, error) {
	existing, err := e.store.ListOwnerIDs()
	if err != nil {
		return nil, classify(err)
	}
	id, err := ids.AllocateID(existing)
	if err != nil {
		return nil, classify(err)
	}
	o := &models.Owner{
		ID:        id,
		Name:      name,
		Mode:      models.AutoproxyOff,
		CreatedTS: time.Now().UnixMilli(),
	}
	if err := validation.ValidateOwner(o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := e.store.SaveOwner(o); err != nil {
		return nil, classify(err)
	}
	logger.Info("owner_created", zap.String("owner", id))
	return o, nil
}

// CreatePersona adds a persona to an owner, allocating the lowest free
// id within that owner's persona namespace.
func (e *Engine) CreatePersona(ownerID, name string) (*models.Persona, error) {
	if _, err := e.store.GetOwner(ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown owner %q", ErrValidation, ownerID)
		}
		return nil, classify(err)
	}
	siblings, err := e.store.ListPersonas(ownerID)
	if err != nil {
		return nil, classify(err)
	}
	existing := make([]string, 0, len(siblings))
	for _, s := range siblings {
		existing = append(existing, s.ID)
	}
	id, err := ids.AllocateID(existing)
	if err != nil {
		return nil, classify(err)
	}
	p := &models.Persona{
		ID:        id,
		Owner:     ownerID,
		Name:      name,
		CreatedTS: time.Now().UnixMilli(),
	}
	if err := validation.ValidatePersona(p, siblings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := e.store.SavePersona(p); err != nil {
		return nil, classify(err)
	}
	logger.Info("persona_created", zap.String("owner", ownerID), zap.String("persona", id))
	return p, nil
}

// UpdatePersona validates and persists an edited persona.
func (e *Engine) UpdatePersona(p *models.Persona) error {
	if _, err := e.store.GetPersona(p.Owner, p.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown persona %q", ErrValidation, p.ID)
		}
		return classify(err)
	}
	siblings, err := e.store.ListPersonas(p.Owner)
	if err != nil {
		return classify(err)
	}
	if err := validation.ValidatePersona(p, siblings); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return classify(e.store.SavePersona(p))
}

// AddProxyTag appends a tag to a persona after checking uniqueness
// against the owner's whole roster.
func (e *Engine) AddProxyTag(ownerID, personaID string, tag models.ProxyTag) error {
	p, err := e.store.GetPersona(ownerID, personaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown persona %q", ErrValidation, personaID)
		}
		return classify(err)
	}
	p.Tags = append(p.Tags, tag)
	return e.UpdatePersona(p)
}

// SetAutoproxyMode sets the owner-wide mode. AutoproxyMember requires
// an existing fixed persona.
func (e *Engine) SetAutoproxyMode(ownerID string, mode models.AutoproxyMode, fixedPersona string) error {
	o, err := e.store.GetOwner(ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown owner %q", ErrValidation, ownerID)
		}
		return classify(err)
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown autoproxy mode %q", ErrValidation, mode)
	}
	if mode == models.AutoproxyMember {
		if _, err := e.store.GetPersona(ownerID, fixedPersona); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: unknown persona %q", ErrValidation, fixedPersona)
			}
			return classify(err)
		}
		o.FixedPersona = fixedPersona
	} else {
		o.FixedPersona = ""
	}
	o.Mode = mode
	if err := e.store.SaveOwner(o); err != nil {
		return classify(err)
	}
	logger.Info("autoproxy_mode_set", zap.String("owner", ownerID), zap.String("mode", string(mode)))
	return nil
}

// SetVenueSettings stores a per-venue mode override or proxy kill
// switch for the owner.
func (e *Engine) SetVenueSettings(vs *models.VenueSettings) error {
	if _, err := e.store.GetOwner(vs.Owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown owner %q", ErrValidation, vs.Owner)
		}
		return classify(err)
	}
	if vs.Mode != "" && !vs.Mode.Valid() {
		return fmt.Errorf("%w: unknown autoproxy mode %q", ErrValidation, vs.Mode)
	}
	return classify(e.store.SaveVenueSettings(vs))
}

// SetVenueOverride stores a per-venue display override for a persona.
func (e *Engine) SetVenueOverride(ov *models.VenueOverride) error {
	if _, err := e.store.GetPersona(ov.Owner, ov.Persona); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown persona %q", ErrValidation, ov.Persona)
		}
		return classify(err)
	}
	return classify(e.store.SaveOverride(ov))
}

// DeletePersona removes a persona and its venue overrides. Historical
// substituted messages keep their stored display name.
func (e *Engine) DeletePersona(ownerID, personaID string) error {
	if _, err := e.store.GetPersona(ownerID, personaID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown persona %q", ErrNotFound, personaID)
		}
		return classify(err)
	}
	if err := e.store.DeletePersona(ownerID, personaID); err != nil {
		return classify(err)
	}
	logger.Info("persona_deleted", zap.String("owner", ownerID), zap.String("persona", personaID))
	return nil
}
