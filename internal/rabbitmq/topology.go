package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Topology exchange и очередь для событий продления подписок.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}

// SetupChannel открывает канал и объявляет exchange, очередь и привязку.
func SetupChannel(conn *amqp.Connection, t Topology) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := Declare(ch, t); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

// Declare объявляет топологию на открытом канале.
func Declare(ch *amqp.Channel, t Topology) error {
	prefetch := t.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err := ch.ExchangeDeclare(
		t.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	_, err = ch.QueueDeclare(
		t.Queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}

	err = ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind queue %s with routing key %s: %w", t.Queue, t.RoutingKey, err)
	}
	return nil
}
