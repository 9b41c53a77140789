package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/cache"
	"gopherchat/internal/model"
	"gopherchat/internal/realtime"
	"gopherchat/internal/repository"
)

type chatFixture struct {
	store      *repository.MemoryStore
	broadcast  *fakeBroadcaster
	dispatcher *fakeDispatcher
	archive    *fakeArchive
	svc        *ChatService
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := &chatFixture{
		store:      repository.NewMemoryStore(),
		broadcast:  &fakeBroadcaster{},
		dispatcher: &fakeDispatcher{},
		archive:    &fakeArchive{},
	}
	f.svc = NewChatService(f.store, f.broadcast, f.dispatcher, nil, f.archive, zerolog.Nop())
	return f
}

func TestSubmitBroadcastsCanonicalMessage(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")

	msg, err := f.svc.Submit(context.Background(), SubmitInput{
		Content:      "  hello world  ",
		AuthorUserID: alice.ID,
		ChatScope:    model.ScopeGeneral,
		AIActive:     boolPtr(false),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "hello world", msg.Content)
	require.NotNil(t, msg.Author)
	assert.Equal(t, "alice", msg.Author.Username)

	events := f.broadcast.events()
	require.Len(t, events, 1)
	assert.Equal(t, "all", events[0].target)
	created := events[0].event.(realtime.MessageCreated)
	assert.Equal(t, msg.ID, created.Message.ID)
	assert.Equal(t, "alice", created.Message.Author.Username)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "hello world", stored.Content)

	assert.Zero(t, f.dispatcher.count())
	assert.Equal(t, []string{"hello world"}, f.archive.contents())
}

func TestSubmitValidation(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")
	bob := seedUser(t, f.store, "bob")

	cases := []struct {
		name  string
		input SubmitInput
		err   error
	}{
		{"empty", SubmitInput{Content: "   ", ChatScope: model.ScopeGeneral}, ErrInvalidInput},
		{"unknown scope", SubmitInput{Content: "x", ChatScope: "room-7"}, ErrInvalidInput},
		{"malformed author", SubmitInput{Content: "x", AuthorUserID: "not-a-uuid"}, ErrInvalidInput},
		{"private without counterpart", SubmitInput{Content: "x", ChatScope: model.ScopePrivate, AuthorUserID: alice.ID}, ErrInvalidInput},
		{"private for someone else", SubmitInput{Content: "x", ChatScope: model.ScopePrivate, AuthorUserID: alice.ID, PrivateCounterpartUserID: bob.ID}, ErrInvalidInput},
		{"attachment without url", SubmitInput{ChatScope: model.ScopeGeneral, Attachments: []model.Attachment{{OriginalName: "a.png"}}}, ErrInvalidInput},
		{"unknown author", SubmitInput{Content: "x", AuthorUserID: uuid.NewString()}, ErrUserNotFound},
		{"unknown counterpart", SubmitInput{Content: "x", ChatScope: model.ScopePrivate, PrivateCounterpartUserID: uuid.NewString()}, ErrUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tc.input)
			require.ErrorIs(t, err, tc.err)
		})
	}

	msgs, err := f.store.ListMessages(context.Background(), repository.MessageQuery{Scope: model.ScopeGeneral})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.broadcast.events())
	assert.Zero(t, f.dispatcher.count())
}

func TestSubmitAttachmentsOnly(t *testing.T) {
	f := newChatFixture(t)
	msg, err := f.svc.Submit(context.Background(), SubmitInput{
		Attachments: []model.Attachment{{URL: "/uploads/a.png", MimeType: "image/png", OriginalName: "a.png"}},
		AIActive:    boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ScopeGeneral, msg.ChatScope)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "/uploads/a.png", msg.Attachments[0].URL)
}

func TestAIEligibility(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")

	submit := func(input SubmitInput) {
		t.Helper()
		_, err := f.svc.Submit(context.Background(), input)
		require.NoError(t, err)
	}

	submit(SubmitInput{Content: "a", ChatScope: model.ScopeGeneral})
	assert.Equal(t, 1, f.dispatcher.count(), "general defaults to ai active")

	submit(SubmitInput{Content: "b", ChatScope: model.ScopeGeneral, AIActive: boolPtr(false)})
	assert.Equal(t, 1, f.dispatcher.count())

	submit(SubmitInput{Content: "c", ChatScope: model.ScopeGeneral, AIActive: boolPtr(true)})
	assert.Equal(t, 2, f.dispatcher.count())

	submit(SubmitInput{Content: "d", ChatScope: model.ScopePrivate, PrivateCounterpartUserID: alice.ID, AIActive: boolPtr(false)})
	assert.Equal(t, 3, f.dispatcher.count(), "private always triggers")

	submit(SubmitInput{Content: "e", ChatScope: model.ScopeGeneral, IsAI: true})
	assert.Equal(t, 3, f.dispatcher.count(), "ai messages never trigger")
}

func TestPrivateMessagesStayInTheirPartition(t *testing.T) {
	f := newChatFixture(t)
	u1 := seedUser(t, f.store, "u1")
	u2 := seedUser(t, f.store, "u2")
	ctx := context.Background()

	msg, err := f.svc.Submit(ctx, SubmitInput{
		Content:                  "secret",
		AuthorUserID:             u1.ID,
		ChatScope:                model.ScopePrivate,
		PrivateCounterpartUserID: u1.ID,
	})
	require.NoError(t, err)

	events := f.broadcast.events()
	require.Len(t, events, 1)
	assert.Equal(t, "user:"+u1.ID, events[0].target)

	mine, err := f.svc.ListMessages(ctx, ListQuery{ChatScope: model.ScopePrivate, CounterpartUserID: u1.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, msg.ID, mine[0].ID)

	theirs, err := f.svc.ListMessages(ctx, ListQuery{ChatScope: model.ScopePrivate, CounterpartUserID: u2.ID})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	general, err := f.svc.ListMessages(ctx, ListQuery{ChatScope: model.ScopeGeneral})
	require.NoError(t, err)
	assert.Empty(t, general)

	_, err = f.svc.ListMessages(ctx, ListQuery{ChatScope: model.ScopePrivate})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListMessagesResolvesAuthorsAndLimits(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		_, err := f.svc.Submit(ctx, SubmitInput{Content: content, AuthorUserID: alice.ID, AIActive: boolPtr(false)})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	got, err := f.svc.ListMessages(ctx, ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Content)
	assert.Equal(t, "three", got[1].Content)
	require.NotNil(t, got[1].Author)
	assert.Equal(t, "alice", got[1].Author.Username)

	_, err = f.svc.ListMessages(ctx, ListQuery{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListMessagesUsesHistoryCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := repository.NewMemoryStore()
	svc := NewChatService(store, &fakeBroadcaster{}, nil, cache.NewHistoryCache(client, time.Minute), nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{Content: "first", AIActive: boolPtr(false)})
	require.NoError(t, err)

	got, err := svc.ListMessages(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Written behind the service's back: the cached page is served.
	require.NoError(t, store.CreateMessage(ctx, &model.Message{
		ID: uuid.NewString(), Content: "sneaky", ChatScope: model.ScopeGeneral, Timestamp: time.Now(),
	}))
	got, err = svc.ListMessages(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.Submit(ctx, SubmitInput{Content: "second", AIActive: boolPtr(false)})
	require.NoError(t, err)
	got, err = svc.ListMessages(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSetTypingIsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")
	ctx := context.Background()

	require.NoError(t, f.svc.SetTyping(ctx, alice.ID, true, "client-1"))
	require.NoError(t, f.svc.SetTyping(ctx, alice.ID, true, "client-1"))

	typing, err := f.store.ListTypingBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, typing, 1)
	assert.Equal(t, alice.ID, typing[0].AuthorUserID)
	assert.Empty(t, typing[0].Content)

	events := f.broadcast.events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "except:client-1", e.target)
		changed := e.event.(realtime.TypingChanged)
		assert.True(t, changed.IsTyping)
		assert.Equal(t, "alice", changed.User.Username)
	}

	require.NoError(t, f.svc.SetTyping(ctx, alice.ID, false, "client-1"))
	typing, err = f.store.ListTypingBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, typing)

	assert.ErrorIs(t, f.svc.SetTyping(ctx, uuid.NewString(), true, ""), ErrUserNotFound)
	assert.ErrorIs(t, f.svc.SetTyping(ctx, " ", true, ""), ErrInvalidInput)
}

func TestConcurrentSetTypingKeepsOneRecord(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.SetTyping(ctx, alice.ID, true, ""))
		}()
	}
	wg.Wait()

	typing, err := f.store.ListTypingBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, typing, 1)
	assert.Equal(t, alice.ID, typing[0].AuthorUserID)
}

func TestListMessagesSurvivesCacheFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	c := &fakeCache{keyErr: errors.New("redis down")}
	svc := NewChatService(store, &fakeBroadcaster{}, nil, c, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{Content: "hello", AIActive: boolPtr(false)})
	require.NoError(t, err)

	got, err := svc.ListMessages(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	c.keyErr = nil
	c.setErr = errors.New("redis read-only")
	got, err = svc.ListMessages(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
}

func TestExpireTyping(t *testing.T) {
	f := newChatFixture(t)
	alice := seedUser(t, f.store, "alice")
	bob := seedUser(t, f.store, "bob")
	ctx := context.Background()

	require.NoError(t, f.svc.SetTyping(ctx, alice.ID, true, ""))
	cutoff := time.Now().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.svc.SetTyping(ctx, bob.ID, true, ""))

	expired, err := f.svc.ExpireTyping(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	last := f.broadcast.events()[len(f.broadcast.events())-1]
	assert.Equal(t, "all", last.target)
	assert.Equal(t, realtime.TypingChanged{UserID: alice.ID, IsTyping: false}, last.event)

	remaining, err := f.store.ListTypingBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, bob.ID, remaining[0].AuthorUserID)
}
