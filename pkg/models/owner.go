package models

// AutoproxyMode selects how an untagged message is attributed.
type AutoproxyMode string

const (
	// AutoproxyOff disables automatic attribution.
	AutoproxyOff AutoproxyMode = "off"
	// AutoproxyFront attributes untagged messages to the currently
	// fronting persona from the switch ledger.
	AutoproxyFront AutoproxyMode = "front"
	// AutoproxyLatch attributes untagged messages to the last persona
	// that spoke in the venue.
	AutoproxyLatch AutoproxyMode = "latch"
	// AutoproxyMember attributes untagged messages to a fixed persona.
	AutoproxyMember AutoproxyMode = "member"
)

// Valid reports whether m is one of the known autoproxy modes.
func (m AutoproxyMode) Valid() bool {
	switch m {
	case AutoproxyOff, AutoproxyFront, AutoproxyLatch, AutoproxyMember:
		return true
	}
	return false
}

// TrustLevel gates what another account may see of an owner's records.
type TrustLevel int

const (
	TrustNone TrustLevel = iota
	TrustView
	TrustFull
)

// Owner groups the personas of one registered account. Created on first
// use, never implicitly destroyed.
type Owner struct {
	// ID is a 5-char base-26 identifier (see pkg/ids).
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	// Tag is appended to rendered persona display names.
	Tag         string `json:"tag,omitempty"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	// Mode is the default autoproxy mode; venues may override it.
	Mode AutoproxyMode `json:"mode,omitempty"`
	// FixedPersona is the persona used by AutoproxyMember mode.
	FixedPersona string `json:"fixed_persona,omitempty"`
	// Trust maps foreign account ids to the level of access they get on
	// cross-owner queries. Enforcement lives in the command layer.
	Trust map[string]TrustLevel `json:"trust,omitempty"`
	// Created timestamp (ms)
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// VenueSettings holds per-(owner, venue) behavior overrides.
type VenueSettings struct {
	Owner string `json:"owner"`
	Venue string `json:"venue"`
	// Mode overrides the owner's autoproxy mode in this venue when set.
	Mode AutoproxyMode `json:"mode,omitempty"`
	// ProxyDisabled turns the whole engine off for this venue.
	ProxyDisabled bool `json:"proxy_disabled,omitempty"`
}
