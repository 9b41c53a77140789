package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"gopherchat/internal/model"
	applog "gopherchat/internal/pkg/log"
)

// ArchiveSink stores transcript rows.
type ArchiveSink interface {
	Append(ctx context.Context, entry *model.ArchivedMessage) error
}

// ArchiveWorker consumes completed messages from the archive queue and
// appends them to the transcript table.
type ArchiveWorker struct {
	conn      *amqp.Connection
	sink      ArchiveSink
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewArchiveWorker(conn *amqp.Connection, sink ArchiveSink, queueName string, logger zerolog.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		conn:      conn,
		sink:      sink,
		queueName: queueName,
		logger:    logger.With().Str(applog.FieldOperation, "archive_worker").Logger(),
	}
}

func (w *ArchiveWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn().Msg("archive deliveries closed")
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.logger.Error().Err(err).Str(applog.FieldMessageID, d.MessageId).Msg("archive delivery dropped")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *ArchiveWorker) handle(ctx context.Context, body []byte) error {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode archived message failed: %w", err)
	}
	if msg.ID == "" {
		return fmt.Errorf("decode archived message failed: missing id")
	}

	entry := model.NewArchivedMessage(msg, time.Now().UTC())
	return w.sink.Append(ctx, &entry)
}

func (w *ArchiveWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
