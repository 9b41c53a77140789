package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gopherchat/internal/model"
	applog "gopherchat/internal/pkg/log"
	"gopherchat/internal/repository"
)

const maxUsernameLength = 64

// BlobPurger empties the upload store on reset.
type BlobPurger interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

type UserService struct {
	store        repository.Store
	historyCache HistoryCache
	blobs        BlobPurger
	logger       zerolog.Logger
}

type CreateUserInput struct {
	Username    string
	DisplayName string
	Role        string
	Avatar      string
}

// NewUserService builds the user directory. historyCache and blobs may be nil.
func NewUserService(store repository.Store, historyCache HistoryCache, blobs BlobPurger, logger zerolog.Logger) *UserService {
	return &UserService{
		store:        store,
		historyCache: historyCache,
		blobs:        blobs,
		logger:       logger,
	}
}

func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || len(username) > maxUsernameLength || strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return nil, fmt.Errorf("%w: username must be 1-%d characters without spaces", ErrInvalidInput, maxUsernameLength)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = username
	}
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = model.DefaultUserRole
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		Avatar:      strings.TrimSpace(input.Avatar),
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Reset deletes every user, message and uploaded blob. Cache and blob
// failures are logged; only the store decides success.
func (s *UserService) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}

	logger := applog.Ctx(ctx)
	if s.historyCache != nil {
		if err := s.historyCache.InvalidateAll(ctx); err != nil {
			logger.Warn().Err(err).Str(applog.FieldOperation, "reset").Msg("history cache reset failed")
		}
	}
	if s.blobs != nil {
		if err := s.blobs.DeletePrefix(ctx, ""); err != nil {
			logger.Warn().Err(err).Str(applog.FieldOperation, "reset").Msg("upload purge failed")
		}
	}
	logger.Info().Str(applog.FieldOperation, "reset").Msg("all chat data deleted")
	return nil
}
