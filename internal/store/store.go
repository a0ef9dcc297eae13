package store

import (
	"errors"

	"github.com/Physix85/Venus-AI/pkg/domain"
)

// ErrNotFound is returned by mutations whose target row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines persistence for users and conversations.
//
// Conversation access follows a read-modify-append-write pattern: the relay
// loads the full record, appends entries in memory, and saves the whole thing
// back. There is no optimistic concurrency token; the last writer wins.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// conversations; ownership is enforced by the lookup predicate
	CreateConversation(domain.Conversation) error
	GetConversation(id, ownerID string) (domain.Conversation, bool, error)
	ListConversations(ownerID string, limit int) ([]domain.ConversationSummary, error)
	SaveConversation(domain.Conversation) error
	DeleteConversation(id, ownerID string) error
}
