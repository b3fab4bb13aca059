package announce

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisPublisher fans events out through a Redis channel so every API
// instance can push them to its own observers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Relay forwards every message on channel to the local hub until ctx is done.
func Relay(ctx context.Context, client *redis.Client, channel string, hub *Hub, log *logrus.Logger) {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	log.WithField("channel", channel).Info("announcement relay started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("announcement relay stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := relayMessage(hub, []byte(msg.Payload)); err != nil {
				log.WithError(err).Warn("dropping malformed announcement")
			}
		}
	}
}

func relayMessage(hub *Hub, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	hub.broadcast(ev.SlotKeys, payload)
	return nil
}
