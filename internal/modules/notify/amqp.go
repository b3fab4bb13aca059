package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher puts messages on the booking.confirmed queue. It dials per
// publish.
type Publisher struct {
	url   string
	queue string
	log   *logrus.Logger
}

func NewPublisher(url string, log *logrus.Logger) *Publisher {
	return &Publisher{url: url, queue: QueueBookingConfirmed, log: log}
}

func (p *Publisher) BookingConfirmed(ctx context.Context, c BookingConfirmation) error {
	return p.publish(ctx, Message{Type: TypeBookingConfirmed, Booking: &c, SentAt: time.Now().UTC()})
}

func (p *Publisher) GiftCardIssued(ctx context.Context, g GiftCardIssued) error {
	return p.publish(ctx, Message{Type: TypeGiftCardIssued, GiftCard: &g, SentAt: time.Now().UTC()})
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.SentAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.log.WithFields(logrus.Fields{"type": msg.Type, "queue": p.queue}).Debug("notification queued")
	return nil
}

// Consumer mails every message on the queue. Run reconnects with
// exponential backoff until ctx is cancelled.
type Consumer struct {
	url    string
	queue  string
	sender Sender
	log    *logrus.Logger
}

func NewConsumer(url string, sender Sender, log *logrus.Logger) *Consumer {
	return &Consumer{url: url, queue: QueueBookingConfirmed, sender: sender, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.WithError(err).WithField("retry_in", backoff.String()).Warn("notification consumer: dial failed")
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.WithError(err).Warn("notification consumer: reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.log.WithError(err).Warn("notification consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.log.WithError(err).Error("notification consumer: handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return deliver(ctx, c.sender, msg)
}

func deliver(ctx context.Context, sender Sender, msg Message) error {
	switch {
	case msg.Type == TypeBookingConfirmed && msg.Booking != nil:
		if msg.Booking.CustomerEmail == "" {
			return fmt.Errorf("booking %s has no customer email", msg.Booking.BookingRef)
		}
		subject, body := renderBooking(*msg.Booking)
		return sender.Send(ctx, msg.Booking.CustomerEmail, subject, body)
	case msg.Type == TypeGiftCardIssued && msg.GiftCard != nil:
		subject, body := renderGiftCard(*msg.GiftCard)
		to := msg.GiftCard.RecipientEmail
		if to == "" {
			to = msg.GiftCard.BuyerEmail
		}
		return sender.Send(ctx, to, subject, body)
	default:
		return fmt.Errorf("unknown notification type %q", msg.Type)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
