package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Client used by tests and local runs. It keeps
// identities and posted messages in maps and can be told to fail in the
// ways the real platform does.
type Memory struct {
	mu         sync.Mutex
	identities map[string]*Handle  // channel -> handle
	messages   map[string]*Message // message id -> message

	// CreateErr, when set, is returned by CreateIdentity.
	CreateErr error
	// PostErr, when set, is returned by PostAs once per assignment.
	PostErr error
	// created counts identity creations per channel.
	created map[string]int
}

// NewMemory returns an empty in-memory platform.
func NewMemory() *Memory {
	return &Memory{
		identities: make(map[string]*Handle),
		messages:   make(map[string]*Message),
		created:    make(map[string]int),
	}
}

func (m *Memory) FindIdentity(_ context.Context, channel string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identities[channel], nil
}

func (m *Memory) CreateIdentity(_ context.Context, channel string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	h := &Handle{ID: uuid.NewString(), Channel: channel, Token: uuid.NewString()}
	m.identities[channel] = h
	m.created[channel]++
	return h, nil
}

func (m *Memory) PostAs(_ context.Context, h *Handle, p Post) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PostErr != nil {
		err := m.PostErr
		m.PostErr = nil
		return nil, err
	}
	cur, ok := m.identities[h.Channel]
	if !ok || cur.ID != h.ID {
		return nil, fmt.Errorf("post as %s: %w", h.ID, ErrIdentityNotFound)
	}
	msg := &Message{
		ID:      uuid.NewString(),
		Channel: h.Channel,
		Author:  p.Name,
		Content: p.Content,
		TS:      time.Now().UnixMilli(),
	}
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *Memory) EditAs(_ context.Context, h *Handle, messageID, content, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return fmt.Errorf("edit %s: %w", messageID, ErrMessageNotFound)
	}
	msg.Content = content
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, _ string, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return fmt.Errorf("delete %s: %w", messageID, ErrMessageNotFound)
	}
	delete(m.messages, messageID)
	return nil
}

func (m *Memory) FetchMessage(_ context.Context, _ string, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", messageID, ErrMessageNotFound)
	}
	cp := *msg
	return &cp, nil
}

// SeedMessage registers a message as if posted by an ordinary user,
// for reply-preview and pipeline tests.
func (m *Memory) SeedMessage(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
}

// MessageByID returns a copy of a stored message, or nil.
func (m *Memory) MessageByID(id string) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		cp := *msg
		return &cp
	}
	return nil
}

// CreatedCount reports how many identities were created for a channel.
func (m *Memory) CreatedCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created[channel]
}

// DropIdentity simulates the platform deleting the channel identity out
// from under the cache.
func (m *Memory) DropIdentity(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, channel)
}
