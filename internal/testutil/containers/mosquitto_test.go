//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMosquittoContainer_Publish(t *testing.T) {
	ctx := context.Background()

	container, err := NewMosquittoContainer(ctx, nil)
	require.NoError(t, err, "failed to create Mosquitto container")
	defer func() {
		assert.NoError(t, container.Terminate(ctx), "failed to terminate container")
	}()

	subscriber, err := container.CreateClient("subscriber")
	require.NoError(t, err)
	defer subscriber.Disconnect(250)

	received := make(chan []byte, 1)
	token := subscriber.Subscribe("fleet/+/position", 1, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg.Payload()
	})
	require.True(t, token.WaitTimeout(5*time.Second), "subscribe timeout")
	require.NoError(t, token.Error())

	require.NoError(t, container.Publish(ctx, "fleet/imei-1/position", []byte(`{"lon":1}`)))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"lon":1}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("published message not received")
	}
}

func TestMosquittoContainer_PublishCancelled(t *testing.T) {
	ctx := context.Background()

	container, err := NewMosquittoContainer(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	// The token may complete before the select observes cancellation, so
	// only a non-nil error other than context.Canceled is a failure.
	err = container.Publish(cancelled, "fleet/imei-1/position", []byte(`{}`))
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}
