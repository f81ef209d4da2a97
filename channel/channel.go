// Package channel names one logical conversation on a shared transport. A
// Channel hands out the two roles of that conversation:
//
//	ch := channel.New("math")
//	rx, _ := ch.Rx(workerSide, map[string]any{"add": func(a, b int) int { return a + b }})
//	tx := ch.CreateTx(coordinatorSide)
//	sum, _ := tx.Call(ctx, "add", 2, 3) // 5
//
// Requesters and Responders on different channels share a transport without
// seeing each other's messages.
package channel

import (
	"chan-rpc/client"
	"chan-rpc/server"
	"chan-rpc/transport"
)

// Default is the channel name used when none is given.
const Default = "default"

// Channel is a channel name together with constructors bound to it.
type Channel struct {
	name string
}

// New returns the channel called name, or Default when name is empty.
func New(name string) *Channel {
	if name == "" {
		name = Default
	}
	return &Channel{name: name}
}

func (c *Channel) Name() string { return c.name }

// CreateTx subscribes a Requester for this channel to t.
func (c *Channel) CreateTx(t transport.Transport, opts ...client.Option) *client.Requester {
	opts = append(opts, client.WithChannel(c.name))
	return client.New(t, opts...)
}

// Rx subscribes a Responder for this channel to t, serving receivers.
func (c *Channel) Rx(t transport.Transport, receivers map[string]any, opts ...server.Option) (*server.Responder, error) {
	opts = append(opts, server.WithChannel(c.name))
	return server.New(t, receivers, opts...)
}
