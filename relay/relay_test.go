// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package relay_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aquamon/aquamon/relay"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/require"
)

const addr = "localhost:1890"

func connect(
	ctx context.Context,
	t *testing.T,
	id string,
	recv chan<- *paho.Publish,
) *paho.Client {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	require.NoError(t, err)

	client := paho.NewClient(paho.ClientConfig{
		ClientID: id,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if recv != nil {
					recv <- pr.Packet
				}
				return true, nil
			},
		},
	})
	_, err = client.Connect(ctx, &paho.Connect{
		ClientID:   id,
		KeepAlive:  10,
		CleanStart: true,
	})
	require.NoError(t, err)
	return client
}

func TestRelayRetainsAndTracksSessions(t *testing.T) {
	ctx := context.Background()

	r, err := relay.New(addr)
	require.NoError(t, err)
	require.NoError(t, r.Serve())
	defer r.Close()

	device := connect(ctx, t, "device", nil)
	_, err = device.Publish(ctx, &paho.Publish{
		Topic:   "device1/command",
		QoS:     1,
		Retain:  true,
		Payload: []byte("fill"),
	})
	require.NoError(t, err)

	recv := make(chan *paho.Publish, 1)
	monitor := connect(ctx, t, "monitor", recv)
	_, err = monitor.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: "device1/command", QoS: 1},
		},
	})
	require.NoError(t, err)

	select {
	case pub := <-recv:
		require.Equal(t, "device1/command", pub.Topic)
		require.Equal(t, "fill", string(pub.Payload))
		require.True(t, pub.Retain)
	case <-time.After(2 * time.Second):
		require.Fail(t, "retained value not delivered")
	}

	require.Eventually(t, func() bool {
		return len(r.Clients()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"device", "monitor"}, r.Clients())

	require.NoError(t, device.Disconnect(&paho.Disconnect{ReasonCode: 0}))
	require.Eventually(t, func() bool {
		return len(r.Clients()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.False(t, r.Disconnect("nobody"))
	require.True(t, r.Disconnect("monitor"))
	require.Eventually(t, func() bool {
		return len(r.Clients()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
