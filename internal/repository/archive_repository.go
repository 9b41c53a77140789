package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gopherchat/internal/model"
)

type ArchiveRepository struct {
	db *gorm.DB
}

func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

func (r *ArchiveRepository) Append(ctx context.Context, entry *model.ArchivedMessage) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append archived message failed: %w", err)
	}
	return nil
}

func (r *ArchiveRepository) ListByMessageID(ctx context.Context, messageID string) ([]model.ArchivedMessage, error) {
	var entries []model.ArchivedMessage
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list archived messages failed: %w", err)
	}
	return entries, nil
}
