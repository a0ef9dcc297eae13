package domain

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// EntryRole is the closed set of conversation entry roles. Unknown roles are
// rejected at the boundary, never stored.
type EntryRole string

const (
	RoleEntryUser      EntryRole = "user"
	RoleEntryAssistant EntryRole = "assistant"
	RoleEntrySystem    EntryRole = "system"
)

// ParseEntryRole validates a role string against the closed set.
func ParseEntryRole(raw string) (EntryRole, bool) {
	switch EntryRole(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleEntryUser:
		return RoleEntryUser, true
	case RoleEntryAssistant:
		return RoleEntryAssistant, true
	case RoleEntrySystem:
		return RoleEntrySystem, true
	default:
		return "", false
	}
}

// MediaType is the closed set of attachment media types accepted at upload.
type MediaType string

const (
	MediaPDF  MediaType = "application/pdf"
	MediaDocx MediaType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaCSV  MediaType = "text/csv"
	MediaText MediaType = "text/plain"
	MediaHTML MediaType = "text/html"
	MediaPNG  MediaType = "image/png"
	MediaJPEG MediaType = "image/jpeg"
)

// ParseMediaType validates a declared media type against the closed set.
func ParseMediaType(raw string) (MediaType, bool) {
	switch MediaType(strings.ToLower(strings.TrimSpace(raw))) {
	case MediaPDF:
		return MediaPDF, true
	case MediaDocx:
		return MediaDocx, true
	case MediaCSV:
		return MediaCSV, true
	case MediaText:
		return MediaText, true
	case MediaHTML:
		return MediaHTML, true
	case MediaPNG:
		return MediaPNG, true
	case MediaJPEG:
		return MediaJPEG, true
	default:
		return "", false
	}
}

// Attachment is a value carried inside an entry; it is not persisted on its own.
// Excerpt is nil when text extraction produced nothing, which is a normal outcome.
type Attachment struct {
	OriginalName string    `json:"originalName"`
	StorageName  string    `json:"storageName"`
	MediaType    MediaType `json:"mediaType"`
	SizeBytes    int64     `json:"sizeBytes"`
	URL          string    `json:"url"`
	Excerpt      *string   `json:"excerpt,omitempty"`
}

// Usage is the consumed-token breakdown reported by the upstream model.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// EntryMeta echoes the parameters in effect and the outcome of generation.
type EntryMeta struct {
	Model          string `json:"model,omitempty"`
	Usage          Usage  `json:"usage"`
	DurationMillis int64  `json:"durationMillis,omitempty"`
	Error          bool   `json:"error,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty"`
}

// Entry is one turn within a conversation.
type Entry struct {
	ID          string       `json:"id"`
	Role        EntryRole    `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Meta        EntryMeta    `json:"meta"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ConversationStats are aggregates recomputed before every save, never set
// independently.
type ConversationStats struct {
	EntryCount   int       `json:"entryCount"`
	TotalTokens  int       `json:"totalTokens"`
	LastActivity time.Time `json:"lastActivity"`
}

// Conversation is the persisted record of one chat thread. Entries are kept in
// insertion order, which is chronological order.
type Conversation struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"ownerId"`
	Title        string            `json:"title"`
	Model        string            `json:"model"`
	Temperature  float64           `json:"temperature"`
	MaxTokens    int               `json:"maxTokens"`
	SystemPrompt string            `json:"systemPrompt"`
	Entries      []Entry           `json:"entries"`
	Stats        ConversationStats `json:"stats"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// ConversationSummary is the compact shape emitted with terminal response
// events and list endpoints.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	EntryCount   int       `json:"entryCount"`
	TotalTokens  int       `json:"totalTokens"`
	LastActivity time.Time `json:"lastActivity"`
}

// Summary derives the compact view from current stats.
func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		EntryCount:   c.Stats.EntryCount,
		TotalTokens:  c.Stats.TotalTokens,
		LastActivity: c.Stats.LastActivity,
	}
}

// RefreshStats recomputes aggregates from the entry list. Entry count always
// mirrors the list length; token totals sum the per-entry usage.
func (c *Conversation) RefreshStats(now time.Time) {
	total := 0
	for _, e := range c.Entries {
		total += e.Meta.Usage.Total
	}
	c.Stats.EntryCount = len(c.Entries)
	c.Stats.TotalTokens = total
	c.Stats.LastActivity = now
	c.UpdatedAt = now
}
