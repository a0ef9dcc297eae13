package store

import (
	"sort"
	"sync"

	"github.com/Physix85/Venus-AI/pkg/domain"
)

// MemoryStore keeps users and conversations in process memory. It backs tests
// and local development without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	email         map[string]string // email -> user ID
	conversations map[string]domain.Conversation
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		conversations: make(map[string]domain.Conversation),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateConversation inserts a conversation record.
func (m *MemoryStore) CreateConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = copyConversation(c)
	return nil
}

// GetConversation returns a conversation only when the owner matches, so a
// foreign record looks exactly like a missing one.
func (m *MemoryStore) GetConversation(id, ownerID string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return domain.Conversation{}, false, nil
	}
	return copyConversation(c), true, nil
}

// ListConversations returns summaries for one owner, most recent first.
func (m *MemoryStore) ListConversations(ownerID string, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ConversationSummary, 0)
	for _, c := range m.conversations {
		if c.OwnerID == ownerID {
			out = append(out, c.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveConversation replaces the stored record wholesale (last write wins).
func (m *MemoryStore) SaveConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = copyConversation(c)
	return nil
}

// DeleteConversation removes an owner's conversation.
func (m *MemoryStore) DeleteConversation(id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

// copyConversation deep-copies the entry slice so callers cannot mutate stored
// state behind the lock.
func copyConversation(c domain.Conversation) domain.Conversation {
	out := c
	out.Entries = make([]domain.Entry, len(c.Entries))
	copy(out.Entries, c.Entries)
	for i, e := range c.Entries {
		if len(e.Attachments) > 0 {
			atts := make([]domain.Attachment, len(e.Attachments))
			copy(atts, e.Attachments)
			out.Entries[i].Attachments = atts
		}
	}
	return out
}
