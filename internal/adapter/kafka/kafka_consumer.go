package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/aq2208/course-orders/internal/logging"
)

// ErrSkip tells the consumer to mark a message it will never process.
var ErrSkip = errors.New("skip message")

// HandlerFunc processes one message. nil or ErrSkip marks it consumed; any
// other error is retried in place so later offsets are never committed past it.
type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

// Consumer consumes topics with a single handler.
type Consumer struct {
	Group  sarama.ConsumerGroup
	Topics []string
	Handle HandlerFunc
	Logger *slog.Logger
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:  group,
		Topics: topics,
		Handle: h,
		Logger: logging.New("kafka-consumer"),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, logger: c.Logger, minBackoff: retryMinBackoff, maxBackoff: retryMaxBackoff}
	go func() {
		for err := range c.Group.Errors() {
			c.Logger.Warn("consumer group error", "err", err)
		}
	}()
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		// When Consume returns, it's because ctx was cancelled or a rebalance happened.
		if ctx.Err() != nil {
			return nil
		}
	}
}

const (
	retryMinBackoff = 100 * time.Millisecond
	retryMaxBackoff = 5 * time.Second
)

type cgHandler struct {
	handle     HandlerFunc
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(sess, msg) {
			// session over; the unmarked message is redelivered to the next owner
			return nil
		}
	}
	return nil
}

// process handles msg until it succeeds or is skipped, backing off between
// failures. It reports false when the session ends first.
func (h *cgHandler) process(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	log := h.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	ctx := logging.WithCtx(sess.Context(), log)
	delay := h.minBackoff
	for attempt := 1; ; attempt++ {
		err := h.handle(ctx, msg)
		switch {
		case err == nil:
			sess.MarkMessage(msg, "")
			return true
		case errors.Is(err, ErrSkip):
			log.Warn("skipping message", "err", err)
			sess.MarkMessage(msg, "skipped")
			return true
		}
		log.Error("handler error, retrying", "err", err, "key", string(msg.Key), "attempt", attempt, "backoff", delay)

		select {
		case <-sess.Context().Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > h.maxBackoff {
			delay = h.maxBackoff
		}
	}
}
