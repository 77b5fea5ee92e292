package network

import (
	"context"
	"io"

	"github.com/cmwaters/mnpay/payments"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Network is the transport the payments engine uses to reach other nodes.
// Votes passed to Relay must eventually reach all non-faulty nodes. How that
// is done, i.e. simply flooding the network or gossiping over a mesh, is left
// to the implementer. Messages passed to Send are delivered to a single peer.
type Network interface {
	io.Closer
	payments.Transport
	Notifier
}

type Notifier interface {
	// Notify registers the Handler wishing to receive messages from peers.
	// Only one handler is supported; later calls are ignored.
	Notify(Handler)
}

// Handler processes messages received from peers. A non-nil error means the
// message was refused. *payments.Engine implements Handler.
type Handler interface {
	HandleMessage(ctx context.Context, from peer.ID, msg *payments.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, from peer.ID, msg *payments.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, from peer.ID, msg *payments.Message) error {
	return f(ctx, from, msg)
}
