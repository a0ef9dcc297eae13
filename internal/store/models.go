package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID           string    `gorm:"primaryKey"`
	OwnerID      string    `gorm:"not null;index"`
	Title        string    `gorm:"not null"`
	ModelName    string    `gorm:"not null"`
	Temperature  float64   `gorm:"not null"`
	MaxTokens    int       `gorm:"not null"`
	SystemPrompt string    `gorm:"not null"`
	EntryCount   int       `gorm:"not null"`
	TotalTokens  int       `gorm:"not null"`
	LastActivity time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type EntryModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index"`
	Position       int            `gorm:"not null"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"not null"`
	Attachments    datatypes.JSON `gorm:"type:jsonb"`
	Meta           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}
