package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gopherchat/internal/ai"
	"gopherchat/internal/metrics"
	"gopherchat/internal/model"
	applog "gopherchat/internal/pkg/log"
	"gopherchat/internal/realtime"
	"gopherchat/internal/repository"
)

const (
	ApologyText       = "Sorry, I couldn't generate a response right now. Please try again later."
	EmptyResponseText = "The model returned an empty response."
)

type TurnState string

const (
	TurnCreated   TurnState = "created"
	TurnStreaming TurnState = "streaming"
	TurnFinalized TurnState = "finalized"
	TurnFailed    TurnState = "failed"
)

var ErrTurnTransition = errors.New("invalid turn transition")

var turnTransitions = map[TurnState][]TurnState{
	TurnCreated:   {TurnStreaming, TurnFailed},
	TurnStreaming: {TurnFinalized, TurnFailed},
}

// Turn is one AI reply from placeholder creation to its final update. Its
// content only ever grows.
type Turn struct {
	TriggerID     string
	PlaceholderID string
	State         TurnState

	content strings.Builder
}

func newTurn(triggerID string) *Turn {
	return &Turn{TriggerID: triggerID, State: TurnCreated}
}

func (t *Turn) transition(to TurnState) error {
	for _, allowed := range turnTransitions[t.State] {
		if allowed == to {
			t.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrTurnTransition, t.State, to)
}

func (t *Turn) append(delta string) string {
	t.content.WriteString(delta)
	return t.content.String()
}

func (t *Turn) Content() string {
	return t.content.String()
}

// finalContent is the content of the last update. A failure after partial
// output keeps that output as a prefix.
func (t *Turn) finalContent(failed bool) string {
	content := t.content.String()
	switch {
	case failed && content == "":
		return ApologyText
	case failed:
		return content + "\n\n" + ApologyText
	case content == "":
		return EmptyResponseText
	default:
		return content
	}
}

type TurnConfig struct {
	SystemPrompt      string
	MentionToken      string
	MaxContextMessage int
	Timeout           time.Duration
	MaxConcurrent     int
}

// TurnGenerator runs AI turns in the background, at most MaxConcurrent at
// a time. Turns run on the generator's own context, never a request's.
type TurnGenerator struct {
	store        repository.Store
	generator    ai.TextGenerator
	broadcaster  Broadcaster
	historyCache HistoryCache
	archive      ArchivePublisher
	cfg          TurnConfig
	mention      *regexp.Regexp
	logger       zerolog.Logger

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ TurnDispatcher = (*TurnGenerator)(nil)

func NewTurnGenerator(
	store repository.Store,
	generator ai.TextGenerator,
	broadcaster Broadcaster,
	historyCache HistoryCache,
	archive ArchivePublisher,
	cfg TurnConfig,
	logger zerolog.Logger,
) *TurnGenerator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxContextMessage < 0 {
		cfg.MaxContextMessage = 0
	}

	var mention *regexp.Regexp
	if token := strings.TrimSpace(cfg.MentionToken); token != "" {
		mention = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(token))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TurnGenerator{
		store:        store,
		generator:    generator,
		broadcaster:  broadcaster,
		historyCache: historyCache,
		archive:      archive,
		cfg:          cfg,
		mention:      mention,
		logger:       logger,
		sem:          make(chan struct{}, cfg.MaxConcurrent),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Dispatch starts one turn for trigger and returns immediately. It reports
// false once the generator is closed.
func (g *TurnGenerator) Dispatch(trigger model.Message) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn().Str(applog.FieldTriggerID, trigger.ID).Msg("turn generator closed, turn not started")
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		select {
		case g.sem <- struct{}{}:
		case <-g.ctx.Done():
			metrics.AITurns.WithLabelValues(metrics.OutcomeAborted).Inc()
			return
		}
		defer func() { <-g.sem }()
		g.Run(trigger)
	}()
	return true
}

// Close stops accepting turns and waits for running ones. When ctx expires
// first, in-flight generation is cancelled so those turns fail fast.
func (g *TurnGenerator) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}

// Run executes a turn synchronously and returns it in its terminal state.
func (g *TurnGenerator) Run(trigger model.Message) *Turn {
	start := time.Now()
	turn := newTurn(trigger.ID)
	logger := g.logger.With().
		Str(applog.FieldTriggerID, trigger.ID).
		Str(applog.FieldScope, string(trigger.ChatScope)).
		Logger()

	// Storage writes outlive a Close deadline so the record still converges.
	storeCtx := context.WithoutCancel(g.ctx)

	placeholder := &model.Message{
		ID:                       model.NewMessageID(),
		IsAI:                     true,
		Timestamp:                time.Now().UTC(),
		ChatScope:                trigger.ChatScope,
		PrivateCounterpartUserID: trigger.PrivateCounterpartUserID,
	}
	if err := g.store.CreateMessage(storeCtx, placeholder); err != nil {
		_ = turn.transition(TurnFailed)
		logger.Error().Err(err).Str(applog.FieldTurnState, string(turn.State)).Msg("create ai placeholder failed")
		metrics.AITurns.WithLabelValues(metrics.OutcomeFailed).Inc()
		return turn
	}
	turn.PlaceholderID = placeholder.ID
	logger = logger.With().Str(applog.FieldMessageID, placeholder.ID).Logger()

	g.invalidate(storeCtx, placeholder, logger)
	publishToScope(g.broadcaster, placeholder, realtime.MessageCreated{Message: placeholder})

	prompt := g.buildPrompt(storeCtx, trigger, placeholder.ID, logger)
	_ = turn.transition(TurnStreaming)

	genCtx, cancel := context.WithTimeout(g.ctx, g.cfg.Timeout)
	defer cancel()

	var genErr error
	for delta, err := range g.generator.Stream(genCtx, prompt) {
		if err != nil {
			genErr = err
			break
		}
		if delta == "" {
			continue
		}
		content := turn.append(delta)
		if err := g.store.UpdateMessageContent(storeCtx, placeholder.ID, content); err != nil {
			logger.Warn().Err(err).Msg("persist ai delta failed")
		}
		g.invalidate(storeCtx, placeholder, logger)
		publishToScope(g.broadcaster, placeholder, realtime.MessageUpdated{
			ID:      placeholder.ID,
			Content: content,
		})
	}
	if genErr == nil && genCtx.Err() != nil {
		genErr = fmt.Errorf("%w: %w", ai.ErrGeneration, genCtx.Err())
	}

	failed := genErr != nil
	final := turn.finalContent(failed)
	if err := g.store.UpdateMessageContent(storeCtx, placeholder.ID, final); err != nil {
		logger.Error().Err(err).Msg("persist ai final content failed")
	}
	g.invalidate(storeCtx, placeholder, logger)
	publishToScope(g.broadcaster, placeholder, realtime.MessageUpdated{
		ID:         placeholder.ID,
		Content:    final,
		IsComplete: true,
	})

	outcome := metrics.OutcomeFinalized
	if failed {
		_ = turn.transition(TurnFailed)
		outcome = metrics.OutcomeFailed
		logger.Error().Err(genErr).Str(applog.FieldTurnState, string(turn.State)).Msg("ai turn failed")
	} else {
		_ = turn.transition(TurnFinalized)
		logger.Info().Str(applog.FieldTurnState, string(turn.State)).Int("chars", len(final)).Msg("ai turn finalized")
	}
	metrics.AITurns.WithLabelValues(outcome).Inc()
	metrics.AITurnDuration.Observe(time.Since(start).Seconds())

	if g.archive != nil {
		archived := *placeholder
		archived.Content = final
		if err := g.archive.Publish(storeCtx, archived); err != nil {
			logger.Error().Err(err).Str(applog.FieldOperation, "archive").Msg("archive publish failed")
		}
	}
	return turn
}

// CleanPrompt strips the mention token and collapses whitespace.
func (g *TurnGenerator) CleanPrompt(content string) string {
	if g.mention != nil {
		content = g.mention.ReplaceAllString(content, " ")
	}
	return strings.Join(strings.Fields(content), " ")
}

func (g *TurnGenerator) buildPrompt(ctx context.Context, trigger model.Message, placeholderID string, logger zerolog.Logger) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, g.cfg.MaxContextMessage+2)
	if system := strings.TrimSpace(g.cfg.SystemPrompt); system != "" {
		messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: system})
	}

	if g.cfg.MaxContextMessage > 0 {
		recent, err := g.store.ListMessages(ctx, repository.MessageQuery{
			Scope:             trigger.ChatScope,
			CounterpartUserID: trigger.PrivateCounterpartUserID,
			Limit:             g.cfg.MaxContextMessage + 2,
			ExcludeID:         trigger.ID,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("load conversation context failed")
		}
		var history []ai.ChatMessage
		for _, m := range recent {
			if m.ID == placeholderID || m.Timestamp.After(trigger.Timestamp) {
				continue
			}
			content := g.CleanPrompt(m.Content)
			if content == "" {
				continue
			}
			role := ai.RoleUser
			if m.IsAI {
				role = ai.RoleAssistant
			}
			history = append(history, ai.ChatMessage{Role: role, Content: content})
		}
		if len(history) > g.cfg.MaxContextMessage {
			history = history[len(history)-g.cfg.MaxContextMessage:]
		}
		messages = append(messages, history...)
	}

	prompt := g.CleanPrompt(trigger.Content)
	for _, a := range trigger.Attachments {
		prompt = strings.TrimSpace(prompt + "\n" + describeAttachment(a))
	}
	if prompt != "" {
		messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: prompt})
	}
	return messages
}

func describeAttachment(a model.Attachment) string {
	name := a.OriginalName
	if name == "" {
		name = a.URL
	}
	if a.MimeType == "" {
		return fmt.Sprintf("[attachment: %s]", name)
	}
	return fmt.Sprintf("[attachment: %s (%s)]", name, a.MimeType)
}

func (g *TurnGenerator) invalidate(ctx context.Context, msg *model.Message, logger zerolog.Logger) {
	if g.historyCache == nil {
		return
	}
	if err := g.historyCache.Invalidate(ctx, msg.ChatScope, msg.PrivateCounterpartUserID); err != nil {
		logger.Warn().Err(err).Msg("history cache invalidation failed")
	}
}
