package app

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/ai"
	"gopherchat/internal/model"
	"gopherchat/internal/realtime"
	"gopherchat/internal/repository"
)

type sentEvent struct {
	target string
	event  realtime.Event
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (b *fakeBroadcaster) record(target string, e realtime.Event) {
	if mc, ok := e.(realtime.MessageCreated); ok && mc.Message != nil {
		copied := *mc.Message
		e = realtime.MessageCreated{Message: &copied}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{target: target, event: e})
}

func (b *fakeBroadcaster) BroadcastAll(e realtime.Event) { b.record("all", e) }

func (b *fakeBroadcaster) BroadcastExcept(clientID string, e realtime.Event) {
	b.record("except:"+clientID, e)
}

func (b *fakeBroadcaster) BroadcastToUser(userID string, e realtime.Event) {
	b.record("user:"+userID, e)
}

func (b *fakeBroadcaster) events() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.sent...)
}

func (b *fakeBroadcaster) created() []*model.Message {
	var out []*model.Message
	for _, s := range b.events() {
		if mc, ok := s.event.(realtime.MessageCreated); ok {
			out = append(out, mc.Message)
		}
	}
	return out
}

func (b *fakeBroadcaster) updates(id string) []realtime.MessageUpdated {
	var out []realtime.MessageUpdated
	for _, s := range b.events() {
		if mu, ok := s.event.(realtime.MessageUpdated); ok && mu.ID == id {
			out = append(out, mu)
		}
	}
	return out
}

func (b *fakeBroadcaster) completed(id string) bool {
	for _, u := range b.updates(id) {
		if u.IsComplete {
			return true
		}
	}
	return false
}

type fakeDispatcher struct {
	mu       sync.Mutex
	triggers []model.Message
}

func (d *fakeDispatcher) Dispatch(trigger model.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggers = append(d.triggers, trigger)
	return true
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.triggers)
}

// scriptedGenerator yields deltas, then err. With release set it waits for
// the channel to close (or ctx) before the first delta.
type scriptedGenerator struct {
	deltas  []string
	err     error
	release chan struct{}

	mu         sync.Mutex
	prompts    [][]ai.ChatMessage
	running    atomic.Int32
	maxRunning atomic.Int32
}

func (g *scriptedGenerator) Stream(ctx context.Context, messages []ai.ChatMessage) iter.Seq2[string, error] {
	g.mu.Lock()
	g.prompts = append(g.prompts, messages)
	g.mu.Unlock()

	return func(yield func(string, error) bool) {
		cur := g.running.Add(1)
		defer g.running.Add(-1)
		for {
			peak := g.maxRunning.Load()
			if cur <= peak || g.maxRunning.CompareAndSwap(peak, cur) {
				break
			}
		}

		if g.release != nil {
			select {
			case <-g.release:
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}
		for _, d := range g.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

func (g *scriptedGenerator) lastPrompt() []ai.ChatMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return nil
	}
	return g.prompts[len(g.prompts)-1]
}

type fakeCache struct {
	mu             sync.Mutex
	invalidated    []string
	invalidatedAll int
	keyErr         error
	setErr         error
}

func (c *fakeCache) Key(_ context.Context, scope model.ChatScope, counterpart string, limit int) (string, error) {
	if c.keyErr != nil {
		return "", c.keyErr
	}
	return string(scope) + ":" + counterpart, nil
}

func (c *fakeCache) Get(context.Context, string) ([]model.Message, bool, error) { return nil, false, nil }

func (c *fakeCache) Set(context.Context, string, []model.Message) error { return c.setErr }

func (c *fakeCache) Invalidate(_ context.Context, scope model.ChatScope, counterpart string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, string(scope)+":"+counterpart)
	return nil
}

func (c *fakeCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidatedAll++
	return nil
}

func (c *fakeCache) invalidations() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...), c.invalidatedAll
}

type fakeArchive struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (a *fakeArchive) Publish(_ context.Context, msg model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return nil
}

func (a *fakeArchive) contents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.msgs))
	for _, m := range a.msgs {
		out = append(out, m.Content)
	}
	return out
}

func seedUser(t *testing.T, store repository.Store, username string) *model.User {
	t.Helper()
	user := &model.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: username,
		Role:        model.DefaultUserRole,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func boolPtr(v bool) *bool { return &v }

// requirePrefixChain checks that every update extends the previous one and
// that exactly the last one is complete.
func requirePrefixChain(t *testing.T, updates []realtime.MessageUpdated) {
	t.Helper()
	require.NotEmpty(t, updates)
	prev := ""
	for i, u := range updates {
		require.True(t, strings.HasPrefix(u.Content, prev), "update %d %q does not extend %q", i, u.Content, prev)
		require.Equal(t, i == len(updates)-1, u.IsComplete, "update %d completeness", i)
		prev = u.Content
	}
}
