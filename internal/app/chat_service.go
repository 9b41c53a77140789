package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gopherchat/internal/metrics"
	"gopherchat/internal/model"
	applog "gopherchat/internal/pkg/log"
	"gopherchat/internal/realtime"
	"gopherchat/internal/repository"
)

type ChatService struct {
	store        repository.Store
	broadcaster  Broadcaster
	turns        TurnDispatcher
	historyCache HistoryCache
	archive      ArchivePublisher
	logger       zerolog.Logger
}

type SubmitInput struct {
	Content                  string
	AuthorUserID             string
	IsAI                     bool
	ChatScope                model.ChatScope
	PrivateCounterpartUserID string
	// AIActive defaults to true when nil.
	AIActive    *bool
	Attachments []model.Attachment
}

type ListQuery struct {
	ChatScope         model.ChatScope
	CounterpartUserID string
	Limit             int
}

// NewChatService wires ingestion. historyCache and archive may be nil.
func NewChatService(
	store repository.Store,
	broadcaster Broadcaster,
	turns TurnDispatcher,
	historyCache HistoryCache,
	archive ArchivePublisher,
	logger zerolog.Logger,
) *ChatService {
	return &ChatService{
		store:        store,
		broadcaster:  broadcaster,
		turns:        turns,
		historyCache: historyCache,
		archive:      archive,
		logger:       logger,
	}
}

// Submit validates, persists and broadcasts a message, then hands eligible
// messages to the turn dispatcher. The broadcast happens before Submit
// returns.
func (s *ChatService) Submit(ctx context.Context, input SubmitInput) (*model.Message, error) {
	msg, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	var author *model.User
	if msg.AuthorUserID != "" {
		author, err = s.store.GetUser(ctx, msg.AuthorUserID)
		if err != nil {
			return nil, err
		}
		if author == nil {
			return nil, ErrUserNotFound
		}
	}
	if msg.ChatScope == model.ScopePrivate && msg.PrivateCounterpartUserID != msg.AuthorUserID {
		counterpart, err := s.store.GetUser(ctx, msg.PrivateCounterpartUserID)
		if err != nil {
			return nil, err
		}
		if counterpart == nil {
			return nil, ErrUserNotFound
		}
	}

	msg.ID = model.NewMessageID()
	msg.Timestamp = time.Now().UTC()
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	msg.Author = author
	metrics.MessagesCreated.WithLabelValues(string(msg.ChatScope)).Inc()

	s.invalidate(ctx, msg)
	publishToScope(s.broadcaster, msg, realtime.MessageCreated{Message: msg})
	s.archiveMessage(ctx, *msg)

	if aiEligible(msg, input.AIActive) && s.turns != nil {
		s.turns.Dispatch(*msg)
	}
	return msg, nil
}

func aiEligible(msg *model.Message, aiActive *bool) bool {
	if msg.IsAI {
		return false
	}
	switch msg.ChatScope {
	case model.ScopePrivate:
		return true
	case model.ScopeGeneral:
		return aiActive == nil || *aiActive
	default:
		return false
	}
}

func (s *ChatService) validate(input SubmitInput) (*model.Message, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" && len(input.Attachments) == 0 {
		return nil, fmt.Errorf("%w: content or attachments required", ErrInvalidInput)
	}

	scope := input.ChatScope
	if scope == "" {
		scope = model.ScopeGeneral
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown chat scope %q", ErrInvalidInput, input.ChatScope)
	}

	authorID := strings.TrimSpace(input.AuthorUserID)
	if authorID != "" && !validID(authorID) {
		return nil, fmt.Errorf("%w: malformed author id", ErrInvalidInput)
	}

	counterpartID := strings.TrimSpace(input.PrivateCounterpartUserID)
	switch scope {
	case model.ScopePrivate:
		if counterpartID == "" {
			return nil, fmt.Errorf("%w: private messages need a counterpart", ErrInvalidInput)
		}
		if !validID(counterpartID) {
			return nil, fmt.Errorf("%w: malformed counterpart id", ErrInvalidInput)
		}
		if authorID != "" && authorID != counterpartID {
			return nil, fmt.Errorf("%w: private messages belong to their counterpart", ErrInvalidInput)
		}
	case model.ScopeGeneral:
		counterpartID = ""
	}

	attachments := make([]model.Attachment, 0, len(input.Attachments))
	for _, a := range input.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, fmt.Errorf("%w: attachment without url", ErrInvalidInput)
		}
		attachments = append(attachments, model.Attachment{
			URL:          strings.TrimSpace(a.URL),
			MimeType:     strings.TrimSpace(a.MimeType),
			OriginalName: a.OriginalName,
		})
	}
	if len(attachments) == 0 {
		attachments = nil
	}

	return &model.Message{
		Content:                  content,
		AuthorUserID:             authorID,
		IsAI:                     input.IsAI,
		ChatScope:                scope,
		PrivateCounterpartUserID: counterpartID,
		Attachments:              attachments,
	}, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SetTyping replaces the user's typing placeholder and tells every other
// connection. originClientID may be empty.
func (s *ChatService) SetTyping(ctx context.Context, userID string, isTyping bool, originClientID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	var placeholder *model.Message
	if isTyping {
		placeholder = &model.Message{
			ID:           model.NewMessageID(),
			AuthorUserID: userID,
			Timestamp:    time.Now().UTC(),
			IsTyping:     true,
			ChatScope:    model.ScopeGeneral,
		}
	}
	if _, err := s.store.ReplaceTyping(ctx, userID, placeholder); err != nil {
		return err
	}

	s.broadcaster.BroadcastExcept(originClientID, realtime.TypingChanged{
		UserID:   userID,
		IsTyping: isTyping,
		User:     user,
	})
	return nil
}

// ExpireTyping removes typing placeholders created before cutoff and
// announces that those users stopped typing.
func (s *ChatService) ExpireTyping(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.store.ListTypingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, placeholder := range stale {
		if err := s.store.DeleteMessage(ctx, placeholder.ID); err != nil {
			s.logger.Error().Err(err).
				Str(applog.FieldOperation, "expire_typing").
				Str(applog.FieldMessageID, placeholder.ID).
				Msg("delete typing placeholder failed")
			continue
		}
		expired++
		if placeholder.AuthorUserID == "" {
			continue
		}
		s.broadcaster.BroadcastAll(realtime.TypingChanged{UserID: placeholder.AuthorUserID, IsTyping: false})
	}
	return expired, nil
}

// ListMessages returns the newest messages of a partition, oldest first,
// with authors resolved.
func (s *ChatService) ListMessages(ctx context.Context, query ListQuery) ([]model.Message, error) {
	scope := query.ChatScope
	if scope == "" {
		scope = model.ScopeGeneral
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown chat scope %q", ErrInvalidInput, query.ChatScope)
	}
	counterpartID := strings.TrimSpace(query.CounterpartUserID)
	if scope == model.ScopePrivate && counterpartID == "" {
		return nil, fmt.Errorf("%w: counterpartUserId required for private scope", ErrInvalidInput)
	}
	if scope == model.ScopeGeneral {
		counterpartID = ""
	}
	if query.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}
	limit := query.Limit
	if limit == 0 {
		limit = repository.DefaultListLimit
	}
	if limit > repository.MaxListLimit {
		limit = repository.MaxListLimit
	}

	logger := applog.Ctx(ctx)
	var cacheKey string
	if s.historyCache != nil {
		key, err := s.historyCache.Key(ctx, scope, counterpartID, limit)
		if err == nil {
			cacheKey = key
			if cached, hit, err := s.historyCache.Get(ctx, key); err == nil && hit {
				return cached, nil
			}
		} else {
			logger.Warn().Err(err).Str(applog.FieldOperation, "list_messages").Msg("history cache unavailable")
		}
	}

	messages, err := s.store.ListMessages(ctx, repository.MessageQuery{
		Scope:             scope,
		CounterpartUserID: counterpartID,
		Limit:             limit,
	})
	if err != nil {
		return nil, err
	}
	if err := s.attachAuthors(ctx, messages); err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if err := s.historyCache.Set(ctx, cacheKey, messages); err != nil {
			logger.Warn().Err(err).Str(applog.FieldOperation, "list_messages").Msg("history cache write failed")
		}
	}
	return messages, nil
}

func (s *ChatService) attachAuthors(ctx context.Context, messages []model.Message) error {
	ids := make([]string, 0, len(messages))
	seen := make(map[string]struct{})
	for _, m := range messages {
		if m.AuthorUserID == "" {
			continue
		}
		if _, ok := seen[m.AuthorUserID]; ok {
			continue
		}
		seen[m.AuthorUserID] = struct{}{}
		ids = append(ids, m.AuthorUserID)
	}
	if len(ids) == 0 {
		return nil
	}

	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i := range messages {
		if u, ok := users[messages[i].AuthorUserID]; ok {
			author := u
			messages[i].Author = &author
		}
	}
	return nil
}

func (s *ChatService) invalidate(ctx context.Context, msg *model.Message) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.Invalidate(ctx, msg.ChatScope, msg.PrivateCounterpartUserID); err != nil {
		s.logger.Warn().Err(err).
			Str(applog.FieldOperation, "invalidate_history").
			Str(applog.FieldMessageID, msg.ID).
			Msg("history cache invalidation failed")
	}
}

func (s *ChatService) archiveMessage(ctx context.Context, msg model.Message) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Publish(ctx, msg); err != nil {
		s.logger.Error().Err(err).
			Str(applog.FieldOperation, "archive").
			Str(applog.FieldMessageID, msg.ID).
			Msg("archive publish failed")
	}
}
