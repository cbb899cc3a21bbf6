package validation

import (
	"errors"
	"strings"
	"testing"

	"personaproxy/pkg/models"
)

func TestValidateOwner(t *testing.T) {
	o := &models.Owner{ID: "aaaaa", Name: "ok", Mode: models.AutoproxyOff}
	if err := ValidateOwner(o); err != nil {
		t.Fatalf("valid owner rejected: %v", err)
	}

	bad := &models.Owner{ID: "AB", Mode: models.AutoproxyOff}
	if err := ValidateOwner(bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("malformed id err = %v", err)
	}

	badMode := &models.Owner{ID: "aaaaa", Mode: "sometimes"}
	if err := ValidateOwner(badMode); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad mode err = %v", err)
	}

	trusted := &models.Owner{ID: "aaaaa", Mode: models.AutoproxyOff,
		Trust: map[string]models.TrustLevel{"acct-1": models.TrustView}}
	if err := ValidateOwner(trusted); err != nil {
		t.Fatalf("trusted owner rejected: %v", err)
	}
	badTrust := &models.Owner{ID: "aaaaa", Mode: models.AutoproxyOff,
		Trust: map[string]models.TrustLevel{"acct-1": 99}}
	if err := ValidateOwner(badTrust); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad trust level err = %v", err)
	}
}

func TestValidatePersona(t *testing.T) {
	p := &models.Persona{ID: "aaaaa", Owner: "aaaaa", Name: "Junia",
		Tags: []models.ProxyTag{{Prefix: "J:"}}}
	if err := ValidatePersona(p, nil); err != nil {
		t.Fatalf("valid persona rejected: %v", err)
	}

	noName := &models.Persona{ID: "aaaaa", Name: "   "}
	if err := ValidatePersona(noName, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("blank name err = %v", err)
	}

	longName := &models.Persona{ID: "aaaaa", Name: strings.Repeat("x", 101)}
	if err := ValidatePersona(longName, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("oversized name err = %v", err)
	}
}

func TestValidateTag(t *testing.T) {
	if err := ValidateTag(models.ProxyTag{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty tag err = %v", err)
	}
	if err := ValidateTag(models.ProxyTag{Suffix: " -j"}); err != nil {
		t.Fatalf("suffix-only tag rejected: %v", err)
	}
	if err := ValidateTag(models.ProxyTag{Prefix: strings.Repeat("!", 51)}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("oversized affix err = %v", err)
	}
}

func TestDuplicateTagsRejected(t *testing.T) {
	dup := &models.Persona{ID: "aaaaa", Name: "P",
		Tags: []models.ProxyTag{{Prefix: "J:"}, {Prefix: "j:"}}}
	if err := ValidatePersona(dup, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("self-duplicate err = %v", err)
	}

	sibling := &models.Persona{ID: "aaaab", Name: "Other",
		Tags: []models.ProxyTag{{Prefix: "J:"}}}
	p := &models.Persona{ID: "aaaaa", Name: "P",
		Tags: []models.ProxyTag{{Prefix: "j:"}}}
	if err := ValidatePersona(p, []*models.Persona{sibling}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("cross-persona duplicate err = %v", err)
	}

	// Same pair on the same persona id (an update) is fine.
	self := &models.Persona{ID: "aaaaa", Name: "P",
		Tags: []models.ProxyTag{{Prefix: "J:"}}}
	if err := ValidatePersona(self, []*models.Persona{self}); err != nil {
		t.Fatalf("self update rejected: %v", err)
	}

	// Prefix+suffix pairs differing in one affix are distinct.
	pair := &models.Persona{ID: "aaaac", Name: "Q",
		Tags: []models.ProxyTag{{Prefix: "J:", Suffix: "!"}}}
	if err := ValidatePersona(pair, []*models.Persona{sibling}); err != nil {
		t.Fatalf("distinct pair rejected: %v", err)
	}
}
