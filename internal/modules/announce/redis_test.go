package announce

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherPublishesJSON(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(db, "slots.events")

	ev := Event{Type: EventHoldsChanged, PaymentRef: "P2", SlotKeys: []string{"2026-June-12-SUBMARINE-17:00"}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	mock.ExpectPublish("slots.events", data).SetVal(1)

	assert.NoError(t, pub.Publish(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisherReturnsError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(db, "slots.events")

	mock.Regexp().ExpectPublish("slots.events", `.*`).SetErr(assert.AnError)

	assert.Error(t, pub.Publish(context.Background(), Event{Type: EventSlotsReleased}))
}

func TestRelayMessageRejectsGarbage(t *testing.T) {
	hub := NewHub()
	assert.Error(t, relayMessage(hub, []byte("not json")))
	assert.NoError(t, relayMessage(hub, []byte(`{"type":"slots.booked"}`)))
}
