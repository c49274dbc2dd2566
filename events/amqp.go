package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"airlock.evalgo.org/common"
)

// AMQPSink publishes lifecycle events to a durable RabbitMQ queue.
type AMQPSink struct {
	connection AMQPConnection
	channel    AMQPChannel
	queue      string
}

// NewAMQPSink connects to RabbitMQ and declares the event queue.
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	return NewAMQPSinkWithDialer(RealAMQPDialer{}, url, queue)
}

// NewAMQPSinkWithDialer creates the sink with an injected dialer.
func NewAMQPSinkWithDialer(dialer AMQPDialer, url, queue string) (*AMQPSink, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Durable so events survive broker restarts.
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &AMQPSink{connection: conn, channel: ch, queue: queue}, nil
}

// Emit publishes one event as JSON to the queue.
func (s *AMQPSink) Emit(_ context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = s.channel.Publish(
		"",      // exchange (default)
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	common.Logger.WithField("event", event.Name).
		WithField("request", event.RequestID).
		Debug("published lifecycle event")
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	if err := s.channel.Close(); err != nil {
		s.connection.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := s.connection.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
