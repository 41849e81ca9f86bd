package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/somewherelostt/Neom1/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSessionEvent(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub, "")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err = publisher.PublishSessionEvent(ctx, core.SessionEvent{
		Type:       core.EventAuthenticated,
		Wallet:     "0xabc",
		SessionKey: "0xdef",
		Expire:     "1767229200",
		At:         at,
	})
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, string(core.EventAuthenticated), msg.Metadata.Get("type"))

		var event core.SessionEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, msg.UUID, event.ID)
		assert.Equal(t, "0xabc", event.Wallet)
		assert.Equal(t, "0xdef", event.SessionKey)
		assert.True(t, at.Equal(event.At))
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	require.NoError(t, pubSub.Close())

	publisher := NewWatermillPublisher(pubSub, "custom.topic")
	err := publisher.PublishSessionEvent(context.Background(), core.SessionEvent{Type: core.EventReset})
	assert.Error(t, err)
}
