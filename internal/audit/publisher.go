package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmation is the broker's answer to a single publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishChannel interface {
	publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// confirmChannel is an amqp channel in confirm mode. Every publish carries
// its own deferred confirmation, so a confirm that arrives after the caller
// gave up is never read as the answer to a later publish.
type confirmChannel struct {
	ch *amqp.Channel
}

func (c confirmChannel) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("amqp channel is not in confirm mode")
	}
	return dc, nil
}

func (c confirmChannel) Close() error {
	return c.ch.Close()
}

// AMQPPublisher publishes audit events as persistent messages and waits for
// the broker's publisher confirm.
type AMQPPublisher struct {
	ch         publishChannel
	exchange   string
	routingKey string
}

// NewAMQPPublisher opens a channel, declares the durable audit queue when
// publishing through the default exchange, and enables confirms.
func NewAMQPPublisher(conn *amqp.Connection, exchange, routingKey string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if exchange == "" {
		if _, err := ch.QueueDeclare(
			routingKey, // name
			true,       // durable
			false,      // autoDelete
			false,      // exclusive
			false,      // noWait
			nil,        // args
		); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("declare audit queue %s: %w", routingKey, err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &AMQPPublisher{
		ch:         confirmChannel{ch: ch},
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Type:         ev.Action,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}

	confirm, err := p.ch.publish(ctx, p.exchange, p.routingKey, msg)
	if err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm: %w", err)
	}
	if !acked {
		return errors.New("audit event not confirmed by broker")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
