package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) CreateMessage(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query message failed: %w", err)
	}
	return &message, nil
}

func (r *MessageRepository) UpdateMessageContent(ctx context.Context, id, content string) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return fmt.Errorf("update message content failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update message content failed: message %s not found", id)
	}
	return nil
}

// ListMessages returns the newest query.Limit messages of the partition,
// ordered oldest first.
func (r *MessageRepository) ListMessages(ctx context.Context, query MessageQuery) ([]model.Message, error) {
	tx := r.db.WithContext(ctx).
		Where("is_typing = ?", false).
		Where("chat_scope = ?", query.Scope)
	if query.Scope == model.ScopePrivate {
		tx = tx.Where("private_counterpart_user_id = ?", query.CounterpartUserID)
	}
	if query.ExcludeID != "" {
		tx = tx.Where("id <> ?", query.ExcludeID)
	}

	var messages []model.Message
	// Message ids are time-ordered, so id breaks timestamp ties in creation order.
	if err := tx.Order("timestamp DESC").Order("id DESC").Limit(query.normalizedLimit()).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ReplaceTyping locks the user row so concurrent replacements for one user
// serialize. SQLite has no row locks but serializes writers anyway.
func (r *MessageRepository) ReplaceTyping(ctx context.Context, userID string, placeholder *model.Message) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owners []model.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", userID).Limit(1).Find(&owners).Error; err != nil {
			return fmt.Errorf("lock typing owner failed: %w", err)
		}

		res := tx.Where("is_typing = ? AND author_user_id = ?", true, userID).Delete(&model.Message{})
		if res.Error != nil {
			return fmt.Errorf("delete typing messages failed: %w", res.Error)
		}
		deleted = res.RowsAffected

		if placeholder == nil {
			return nil
		}
		if err := tx.Create(placeholder).Error; err != nil {
			return fmt.Errorf("create typing placeholder failed: %w", err)
		}
		return nil
	})
	return deleted, err
}

func (r *MessageRepository) ListTypingBefore(ctx context.Context, before time.Time) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.WithContext(ctx).
		Where("is_typing = ? AND timestamp < ?", true, before).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list stale typing messages failed: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) DeleteMessage(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete message failed: %w", err)
	}
	return nil
}
