package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/aq2208/course-orders/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Acknowledger is the part of amqp.Delivery the Router settles.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Router manages multiple consumers (one per registered queue) on a single AMQP channel.
type Router struct {
	ch            *amqp.Channel
	prefetch      int
	callTimeout   time.Duration
	requeueOnErr  bool
	registrations []registration
	log           *slog.Logger
}

type registration struct {
	queueName   string
	handler     Handler
	consumerTag string
}

// --- Options ---

type RouterOption func(*Router)

func WithPrefetch(n int) RouterOption          { return func(r *Router) { r.prefetch = n } }
func WithTimeout(d time.Duration) RouterOption { return func(r *Router) { r.callTimeout = d } }
func WithRequeue(b bool) RouterOption          { return func(r *Router) { r.requeueOnErr = b } }

// NewRouter constructs a Router. Defaults: prefetch=50, timeout=30s, requeueOnErr=true.
func NewRouter(ch *amqp.Channel, opts ...RouterOption) *Router {
	r := &Router{
		ch:           ch,
		prefetch:     50,
		callTimeout:  30 * time.Second,
		requeueOnErr: true,
		log:          logging.New("rmq-router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates a queue with a handler. Call multiple times for multiple queues.
func (r *Router) Register(queueName string, h Handler) {
	r.registrations = append(r.registrations, registration{
		queueName:   queueName,
		handler:     h,
		consumerTag: "c_" + queueName,
	})
}

// Start begins consuming; non-blocking (spawns one goroutine per queue).
// QoS (prefetch) is set per-channel and applies to all consumers on this channel.
func (r *Router) Start(ctx context.Context) error {
	if err := r.ch.Qos(r.prefetch, 0, false); err != nil {
		return err
	}

	for _, reg := range r.registrations {
		deliveries, err := r.ch.Consume(
			reg.queueName,
			reg.consumerTag,
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return err
		}

		go func(reg registration, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				r.dispatch(ctx, reg, d, d)
			}
			r.log.Info("consumer stopped", "queue", reg.queueName, "tag", reg.consumerTag)
		}(reg, deliveries)
	}

	return nil
}

func (r *Router) dispatch(ctx context.Context, reg registration, d amqp.Delivery, ack Acknowledger) {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	log := r.log.With("queue", reg.queueName, "rk", d.RoutingKey, "msg_id", d.MessageId)
	cctx = logging.WithCtx(cctx, log)

	err := reg.handler.Handle(cctx, d)
	switch {
	case err == nil:
		_ = ack.Ack(false)
	case IsPermanent(err):
		log.Error("dropping message", "err", err)
		_ = ack.Nack(false, false)
	default:
		log.Warn("handler error", "err", err, "requeue", r.requeueOnErr)
		_ = ack.Nack(false, r.requeueOnErr)
	}
}
