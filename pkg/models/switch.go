package models

// SwitchRecord is one entry in an owner's append-only front history. An
// empty Personas list means "no one fronting". Records are totally
// ordered by TS; ids are scoped per owner.
type SwitchRecord struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	// Personas is the ordered list of fronting persona ids.
	Personas []string `json:"personas"`
	// TS timestamp (ms)
	TS int64 `json:"ts"`
}

// ProxiedMessage maps an original platform message to its substituted
// replacement. One row per successful substitution, looked up by either
// id.
type ProxiedMessage struct {
	// OriginalID is the inbound platform message that was replaced.
	OriginalID string `json:"original_id"`
	// MessageID is the sink-posted replacement.
	MessageID string `json:"message_id"`
	Venue     string `json:"venue"`
	// Thread is set when the message was posted into a thread under the
	// venue's channel.
	Thread  string `json:"thread,omitempty"`
	Owner   string `json:"owner"`
	Persona string `json:"persona"`
	// DisplayName is the rendered name at time of send.
	DisplayName string `json:"display_name,omitempty"`
	// TS timestamp (ms); Seq disambiguates rows sharing a timestamp and
	// fixes the venue-index key for later rewrites.
	TS  int64  `json:"ts"`
	Seq uint64 `json:"seq"`
	// Deleted flag; rows are tombstoned so reproxy/edit can distinguish
	// "was proxied, later deleted" from "never proxied".
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}
