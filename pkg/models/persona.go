package models

// ProxyTag is a (prefix, suffix) pair identifying which persona a raw
// message addresses. At least one affix must be non-empty; pairs are
// unique within an owner.
type ProxyTag struct {
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// Empty reports whether both affixes are empty.
func (t ProxyTag) Empty() bool { return t.Prefix == "" && t.Suffix == "" }

// Equal compares affix pairs literally (case-sensitive); uniqueness
// checks lowercase both sides before calling this.
func (t ProxyTag) Equal(o ProxyTag) bool { return t.Prefix == o.Prefix && t.Suffix == o.Suffix }

// String renders the tag the way owners type it, e.g. "J:text" or
// "text -q".
func (t ProxyTag) String() string { return t.Prefix + "text" + t.Suffix }

// Persona is a nameable identity a message can be attributed to.
type Persona struct {
	// ID is a 5-char base-26 identifier scoped globally like owner ids.
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
	// Nickname, when set, is preferred over Name for rendering.
	Nickname    string `json:"nickname,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	// KeepTag leaves the matched affixes in the rendered text.
	KeepTag bool `json:"keep_tag,omitempty"`
	// MessageCount counts successful substitutions attributed to this
	// persona. Incremented atomically with the message-map write.
	MessageCount uint64 `json:"message_count,omitempty"`
	// Tags are matched in registration order; first match wins.
	Tags []ProxyTag `json:"tags,omitempty"`
	// Created timestamp (ms)
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// DisplayName returns the name used for rendering before venue overrides
// and the owner tag are applied.
func (p *Persona) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Name
}

// VenueOverride carries per-venue persona presentation settings.
type VenueOverride struct {
	Venue   string `json:"venue"`
	Owner   string `json:"owner"`
	Persona string `json:"persona"`
	// Name/AvatarURL replace the persona's when non-empty.
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	// ProxyDisabled turns proxying off for this persona in this venue.
	ProxyDisabled bool `json:"proxy_disabled,omitempty"`
}
