package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gopherchat/internal/model"
)

// GormStore backs the Store port with a SQL database.
type GormStore struct {
	*UserRepository
	*MessageRepository

	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		UserRepository:    NewUserRepository(db),
		MessageRepository: NewMessageRepository(db),
		db:                db,
	}
}

func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&model.User{}, &model.Message{}, &model.ArchivedMessage{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return nil
}

func (s *GormStore) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("reset messages failed: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.User{}).Error; err != nil {
			return fmt.Errorf("reset users failed: %w", err)
		}
		return nil
	})
}
