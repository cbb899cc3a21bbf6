package store

import "fmt"

// Key namespaces. Everything for one owner lives under "owner:<id>:" so
// a single prefix scan covers an account; message maps are keyed by both
// platform ids; the venue index orders substitutions by time for latch
// seeding and retention.
const (
	ownerPrefix = "owner:"
	msgOrigNS   = "msg:orig:"
	msgNewNS    = "msg:new:"
	venuePrefix = "venue:"
)

func ownerKey(owner string) string { return ownerPrefix + owner + ":meta" }

func personaKey(owner, persona string) string { return ownerPrefix + owner + ":persona:" + persona }

func personaPrefix(owner string) string { return ownerPrefix + owner + ":persona:" }

func overrideKey(owner, venue, persona string) string {
	return ownerPrefix + owner + ":override:" + venue + ":" + persona
}

func overridePrefix(owner, venue string) string {
	return ownerPrefix + owner + ":override:" + venue + ":"
}

func venueSettingsKey(owner, venue string) string { return ownerPrefix + owner + ":venue:" + venue }

// SwitchKey builds the ledger key for one switch record. The padded
// millisecond timestamp keeps records in time order under the prefix.
func SwitchKey(owner string, ts int64, id string) string {
	return fmt.Sprintf("%s%s:switch:%020d-%s", ownerPrefix, owner, ts, id)
}

func switchPrefix(owner string) string { return ownerPrefix + owner + ":switch:" }

func latchKey(owner, venue string) string { return ownerPrefix + owner + ":latch:" + venue }

func msgOrigKey(id string) string { return msgOrigNS + id }

func msgNewKey(id string) string { return msgNewNS + id }

// VenueIndexKey builds the per-venue recency index key for a proxied
// message. Seq disambiguates rows sharing a millisecond timestamp.
func VenueIndexKey(venue string, ts int64, seq uint64) string {
	return fmt.Sprintf("%s%s:proxied:%020d-%06d", venuePrefix, venue, ts, seq)
}

func venueIndexPrefix(venue string) string { return venuePrefix + venue + ":proxied:" }
