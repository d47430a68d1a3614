package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/hermes-ledger/internal/lib/sl"
)

// Handler обрабатывает тело сообщения.
type Handler func(ctx context.Context, body []byte) error

// Consume читает очередь queueName и обрабатывает сообщения не более чем workers одновременно.
// Сообщение с ошибкой обработки отклоняется без возврата в очередь: доставка не более одного раза.
// Возвращается после отмены ctx или закрытия канала, дождавшись активных обработчиков.
func Consume(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int, handler Handler) error {
	const op = "rabbitmq.Consume"
	log = log.With(slog.String("op", op), slog.String("queue", queueName))

	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if workers <= 0 {
		workers = 10
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case d, ok := <-delivery:
			if !ok {
				log.Info("delivery channel closed")
				return nil
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-sem
					wg.Done()
				}()
				if err := handler(ctx, d.Body); err != nil {
					log.Warn("message dropped", sl.Err(err))
					if nackErr := d.Nack(false, false); nackErr != nil {
						log.Error("failed to nack message", sl.Err(nackErr))
					}
					return
				}
				if ackErr := d.Ack(false); ackErr != nil {
					log.Error("failed to ack message", sl.Err(ackErr))
				}
			}(d)
		case <-ctx.Done():
			return nil
		}
	}
}
