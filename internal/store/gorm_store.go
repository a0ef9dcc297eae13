package store

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Physix85/Venus-AI/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ConversationModel{}, &EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "role", "status", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateConversation inserts a new conversation with its current entries.
func (s *GormStore) CreateConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	if err := s.db.Create(&model).Error; err != nil {
		return err
	}
	return s.insertEntries(c)
}

// GetConversation loads a conversation with its ordered entries.
// The owner predicate is part of the query, so a record owned by a different
// user is indistinguishable from a missing one.
func (s *GormStore) GetConversation(id, ownerID string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	var entryModels []EntryModel
	if err := s.db.Where("conversation_id = ?", id).Order("position ASC").Find(&entryModels).Error; err != nil {
		return domain.Conversation{}, false, err
	}
	conv := conversationFromModel(model)
	conv.Entries = make([]domain.Entry, 0, len(entryModels))
	for _, em := range entryModels {
		entry, err := entryFromModel(em)
		if err != nil {
			return domain.Conversation{}, false, err
		}
		conv.Entries = append(conv.Entries, entry)
	}
	return conv, true, nil
}

// ListConversations returns conversation summaries for one owner, most recent
// activity first.
func (s *GormStore) ListConversations(ownerID string, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var models []ConversationModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("last_activity DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ConversationSummary, 0, len(models))
	for _, m := range models {
		out = append(out, domain.ConversationSummary{
			ID:           m.ID,
			Title:        m.Title,
			EntryCount:   m.EntryCount,
			TotalTokens:  m.TotalTokens,
			LastActivity: m.LastActivity,
		})
	}
	return out, nil
}

// SaveConversation rewrites the conversation row and appends any entries not
// yet persisted. Last write wins; there is no concurrency token.
func (s *GormStore) SaveConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "model_name", "temperature", "max_tokens", "system_prompt",
			"entry_count", "total_tokens", "last_activity", "updated_at",
		}),
	}).Create(&model).Error; err != nil {
		return err
	}
	return s.insertEntries(c)
}

// DeleteConversation removes a conversation and its entries for one owner.
func (s *GormStore) DeleteConversation(id, ownerID string) error {
	res := s.db.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&ConversationModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return s.db.Where("conversation_id = ?", id).Delete(&EntryModel{}).Error
}

func (s *GormStore) insertEntries(c domain.Conversation) error {
	if len(c.Entries) == 0 {
		return nil
	}
	models := make([]EntryModel, 0, len(c.Entries))
	for i, e := range c.Entries {
		em, err := entryToModel(c.ID, i, e)
		if err != nil {
			return err
		}
		models = append(models, em)
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&models).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Status:       domain.UserStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		Title:        c.Title,
		ModelName:    c.Model,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		SystemPrompt: c.SystemPrompt,
		EntryCount:   c.Stats.EntryCount,
		TotalTokens:  c.Stats.TotalTokens,
		LastActivity: c.Stats.LastActivity,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Title:        m.Title,
		Model:        m.ModelName,
		Temperature:  m.Temperature,
		MaxTokens:    m.MaxTokens,
		SystemPrompt: m.SystemPrompt,
		Stats: domain.ConversationStats{
			EntryCount:   m.EntryCount,
			TotalTokens:  m.TotalTokens,
			LastActivity: m.LastActivity,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func entryToModel(conversationID string, position int, e domain.Entry) (EntryModel, error) {
	attachments, err := json.Marshal(e.Attachments)
	if err != nil {
		return EntryModel{}, fmt.Errorf("marshal attachments: %w", err)
	}
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return EntryModel{}, fmt.Errorf("marshal entry meta: %w", err)
	}
	return EntryModel{
		ID:             e.ID,
		ConversationID: conversationID,
		Position:       position,
		Role:           string(e.Role),
		Content:        e.Content,
		Attachments:    datatypes.JSON(attachments),
		Meta:           datatypes.JSON(meta),
		CreatedAt:      e.CreatedAt,
	}, nil
}

func entryFromModel(m EntryModel) (domain.Entry, error) {
	entry := domain.Entry{
		ID:        m.ID,
		Role:      domain.EntryRole(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Attachments) > 0 {
		if err := json.Unmarshal(m.Attachments, &entry.Attachments); err != nil {
			return domain.Entry{}, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if len(m.Meta) > 0 {
		if err := json.Unmarshal(m.Meta, &entry.Meta); err != nil {
			return domain.Entry{}, fmt.Errorf("unmarshal entry meta: %w", err)
		}
	}
	return entry, nil
}
