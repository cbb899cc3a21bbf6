// Package validation checks registry records before they are persisted.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"personaproxy/pkg/ids"
	"personaproxy/pkg/models"
)

// ErrInvalid is the base error for every rejection in this package.
var ErrInvalid = errors.New("invalid record")

const (
	maxNameLen        = 100
	maxDescriptionLen = 1000
	maxTagAffixLen    = 50
	maxTagsPerPersona = 20
)

// ValidateOwner checks a registry owner record.
func ValidateOwner(o *models.Owner) error {
	if !ids.Valid(o.ID) {
		return fmt.Errorf("%w: malformed owner id %q", ErrInvalid, o.ID)
	}
	if len(o.Name) > maxNameLen {
		return fmt.Errorf("%w: owner name exceeds %d characters", ErrInvalid, maxNameLen)
	}
	if len(o.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: owner description exceeds %d characters", ErrInvalid, maxDescriptionLen)
	}
	if !o.Mode.Valid() {
		return fmt.Errorf("%w: unknown autoproxy mode %q", ErrInvalid, o.Mode)
	}
	if o.Mode == models.AutoproxyMember && o.FixedPersona != "" && !ids.Valid(o.FixedPersona) {
		return fmt.Errorf("%w: malformed fixed persona id %q", ErrInvalid, o.FixedPersona)
	}
	for account, level := range o.Trust {
		if account == "" {
			return fmt.Errorf("%w: trust entry with empty account id", ErrInvalid)
		}
		if level < models.TrustNone || level > models.TrustFull {
			return fmt.Errorf("%w: unknown trust level %d for account %q", ErrInvalid, level, account)
		}
	}
	return nil
}

// ValidatePersona checks a persona record against its siblings. The
// siblings slice holds the owner's other personas; tag pairs must be
// unique across all of them, compared case-insensitively.
func ValidatePersona(p *models.Persona, siblings []*models.Persona) error {
	if !ids.Valid(p.ID) {
		return fmt.Errorf("%w: malformed persona id %q", ErrInvalid, p.ID)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: persona name is required", ErrInvalid)
	}
	if len(p.Name) > maxNameLen {
		return fmt.Errorf("%w: persona name exceeds %d characters", ErrInvalid, maxNameLen)
	}
	if len(p.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: persona description exceeds %d characters", ErrInvalid, maxDescriptionLen)
	}
	if len(p.Tags) > maxTagsPerPersona {
		return fmt.Errorf("%w: persona carries more than %d proxy tags", ErrInvalid, maxTagsPerPersona)
	}
	for i, t := range p.Tags {
		if err := ValidateTag(t); err != nil {
			return err
		}
		for _, prev := range p.Tags[:i] {
			if tagsEqualFold(t, prev) {
				return fmt.Errorf("%w: duplicate proxy tag %q", ErrInvalid, t.String())
			}
		}
	}
	for _, sib := range siblings {
		if sib.ID == p.ID {
			continue
		}
		for _, t := range p.Tags {
			for _, st := range sib.Tags {
				if tagsEqualFold(t, st) {
					return fmt.Errorf("%w: proxy tag %q already used by persona %q", ErrInvalid, t.String(), sib.ID)
				}
			}
		}
	}
	return nil
}

// ValidateTag checks a single proxy tag: at least one affix, neither
// affix oversized.
func ValidateTag(t models.ProxyTag) error {
	if t.Empty() {
		return fmt.Errorf("%w: proxy tag needs a prefix or a suffix", ErrInvalid)
	}
	if len(t.Prefix) > maxTagAffixLen || len(t.Suffix) > maxTagAffixLen {
		return fmt.Errorf("%w: proxy tag affix exceeds %d characters", ErrInvalid, maxTagAffixLen)
	}
	return nil
}

func tagsEqualFold(a, b models.ProxyTag) bool {
	return strings.EqualFold(a.Prefix, b.Prefix) && strings.EqualFold(a.Suffix, b.Suffix)
}
