package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopherchat/internal/model"
)

// MemoryStore keeps users and messages in process. It is the default
// backend when no database driver is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	messages map[string]*memoryMessage
	seq      uint64
}

type memoryMessage struct {
	msg model.Message
	seq uint64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*model.User),
		messages: make(map[string]*memoryMessage),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return ErrUsernameTaken
		}
	}
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("create user failed: duplicate id %s", user.ID)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUsersByIDs(_ context.Context, ids []string) (map[string]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = *u
		}
	}
	return out, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) SetOnline(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("update user presence failed: user %s not found", userID)
	}
	u.IsOnline = online
	u.LastSeen = time.Now()
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("create message failed: duplicate id %s", msg.ID)
	}
	s.seq++
	stored := *msg
	stored.Author = nil
	stored.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	s.messages[msg.ID] = &memoryMessage{msg: stored, seq: s.seq}
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	out := m.msg
	return &out, nil
}

func (s *MemoryStore) UpdateMessageContent(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("update message content failed: message %s not found", id)
	}
	m.msg.Content = content
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, query MessageQuery) ([]model.Message, error) {
	type entry struct {
		msg model.Message
		seq uint64
	}

	s.mu.RLock()
	matched := make([]entry, 0)
	for _, m := range s.messages {
		if m.msg.IsTyping || m.msg.ID == query.ExcludeID {
			continue
		}
		if !m.msg.VisibleTo(query.Scope, query.CounterpartUserID) {
			continue
		}
		matched = append(matched, entry{msg: m.msg, seq: m.seq})
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].msg.Timestamp.Equal(matched[j].msg.Timestamp) {
			return matched[i].msg.Timestamp.Before(matched[j].msg.Timestamp)
		}
		return matched[i].seq < matched[j].seq
	})
	if limit := query.normalizedLimit(); len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]model.Message, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.msg)
	}
	return out, nil
}

func (s *MemoryStore) ReplaceTyping(_ context.Context, userID string, placeholder *model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, m := range s.messages {
		if m.msg.IsTyping && m.msg.AuthorUserID == userID {
			delete(s.messages, id)
			deleted++
		}
	}
	if placeholder == nil {
		return deleted, nil
	}
	if _, ok := s.messages[placeholder.ID]; ok {
		return deleted, fmt.Errorf("create typing placeholder failed: duplicate id %s", placeholder.ID)
	}
	s.seq++
	stored := *placeholder
	stored.Author = nil
	s.messages[stored.ID] = &memoryMessage{msg: stored, seq: s.seq}
	return deleted, nil
}

func (s *MemoryStore) ListTypingBefore(_ context.Context, before time.Time) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.msg.IsTyping && m.msg.Timestamp.Before(before) {
			out = append(out, m.msg)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*model.User)
	s.messages = make(map[string]*memoryMessage)
	return nil
}
