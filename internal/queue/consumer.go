package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
)

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

// Channel is what Consume needs from *amqp091.Channel.
type Channel interface {
	Publisher
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// Consume handles queueName one message at a time until ctx is done or the
// delivery channel closes. Successful messages are acked, failed ones go
// through HandleFailure.
func Consume(ctx context.Context, ch Channel, queueName string, handle Handler) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	logger.Info("[Queue] Listening for messages", "queue", queueName)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("[Queue] Message channel closed", "queue", queueName)
				return nil
			}
			Dispatch(ctx, ch, queueName, msg, handle)
		}
	}
}

// Dispatch runs handle on one delivery and settles it.
func Dispatch(ctx context.Context, ch Publisher, queueName string, msg amqp091.Delivery, handle Handler) {
	start := time.Now()
	if err := handle(ctx, msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
		if errors.Is(err, common.ErrInvalidInput) {
			DeadLetter(ctx, ch, msg, queueName)
			return
		}
		HandleFailure(ctx, ch, msg, queueName)
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
	logger.Info("[Queue] Message processed", "queue", queueName, "duration", time.Since(start).Round(time.Millisecond))
}

// Retries reads the x-retries header.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleFailure republishes msg to the retry queue with x-retries bumped, or
// to the dead-letter queue once MaxRetries is reached. The original is
// acked after a successful republish and requeued otherwise.
func HandleFailure(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string) {
	retries := Retries(msg.Headers)
	if retries >= MaxRetries {
		DeadLetter(ctx, ch, msg, queueName)
		return
	}
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)
	republish(ctx, ch, msg, queueName+"_retry", headers)
}

// DeadLetter moves msg to the dead-letter queue of queueName.
func DeadLetter(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string) {
	target := queueName + "_dlq"
	logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", Retries(msg.Headers))
	republish(ctx, ch, msg, target, msg.Headers)
}

func republish(ctx context.Context, ch Publisher, msg amqp091.Delivery, target string, headers amqp091.Table) {
	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
