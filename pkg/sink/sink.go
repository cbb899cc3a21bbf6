// Package sink abstracts the outbound identity capability of the chat
// platform: create or reuse a named sender identity per channel, post
// as that identity, and edit/delete/fetch platform messages. The real
// platform client lives outside this module and plugs in behind Client.
package sink

import (
	"context"
	"errors"
)

// Typed failure classes. The orchestrator maps these onto its own
// taxonomy; platform clients must wrap their errors so errors.Is works.
var (
	// ErrIdentityNotFound marks a stale handle: the platform no longer
	// knows the identity the handle points at.
	ErrIdentityNotFound = errors.New("sink identity not found")
	// ErrPermission marks a permanent failure (missing permission,
	// deleted channel).
	ErrPermission = errors.New("sink permission denied")
	// ErrRateLimited marks a transient platform rejection.
	ErrRateLimited = errors.New("sink rate limited")
	// ErrMessageNotFound is returned by Edit/Delete/Fetch for unknown
	// message ids.
	ErrMessageNotFound = errors.New("sink message not found")
)

// Handle is a reusable outbound identity bound to one physical channel.
type Handle struct {
	ID      string
	Channel string
	// Token authorizes posting through the identity; opaque to the
	// engine.
	Token string
}

// Attachment is a file carried over from the original message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Post is the composed outbound content for one substitution.
type Post struct {
	Content     string
	Name        string
	AvatarURL   string
	Attachments []Attachment
	// Thread targets a thread under the handle's channel; empty posts to
	// the channel itself.
	Thread string
}

// Message is the platform's view of a posted message.
type Message struct {
	ID      string
	Channel string
	Author  string
	Content string
	TS      int64
}

// Client is the platform capability the engine consumes.
type Client interface {
	// FindIdentity returns an existing identity owned by this process in
	// the channel, or nil when none exists.
	FindIdentity(ctx context.Context, channel string) (*Handle, error)
	// CreateIdentity provisions a new identity in the channel.
	CreateIdentity(ctx context.Context, channel string) (*Handle, error)
	// PostAs posts through the identity and returns the created message.
	PostAs(ctx context.Context, h *Handle, p Post) (*Message, error)
	// EditAs replaces the content of a message previously posted through
	// the identity.
	EditAs(ctx context.Context, h *Handle, messageID, content, thread string) error
	// DeleteMessage removes any platform message in the channel.
	DeleteMessage(ctx context.Context, channel, messageID string) error
	// FetchMessage reads a message (used for reply previews and
	// reproxy).
	FetchMessage(ctx context.Context, channel, messageID string) (*Message, error)
}
