package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	applog "gopherchat/internal/pkg/log"
)

type TypingExpirer interface {
	ExpireTyping(ctx context.Context, cutoff time.Time) (int, error)
}

// TypingSweeper clears typing placeholders left behind by clients that went
// away without sending isTyping=false.
type TypingSweeper struct {
	cron    *cron.Cron
	expirer TypingExpirer
	ttl     time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewTypingSweeper(expirer TypingExpirer, ttl time.Duration, spec string, logger zerolog.Logger) (*TypingSweeper, error) {
	s := &TypingSweeper{
		cron:    cron.New(),
		expirer: expirer,
		ttl:     ttl,
		logger:  logger.With().Str(applog.FieldOperation, "typing_sweeper").Logger(),
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return nil, fmt.Errorf("schedule typing sweeper failed: %w", err)
	}
	return s, nil
}

func (s *TypingSweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep, or for ctx.
func (s *TypingSweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *TypingSweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	expired, err := s.expirer.ExpireTyping(ctx, s.now().Add(-s.ttl))
	if err != nil {
		s.logger.Error().Err(err).Msg("typing sweep failed")
		return
	}
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("stale typing indicators cleared")
	}
}
