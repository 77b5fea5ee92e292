// Package mnpay runs the masternode payments engine over libp2p.
package mnpay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cmwaters/mnpay/p2p"
	"github.com/cmwaters/mnpay/payments"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/rs/zerolog"
)

// Node is a payments engine connected to the network.
type Node struct {
	*payments.Engine
	Network *p2p.Network

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

type options struct {
	logger zerolog.Logger
	engine []payments.Option
}

type Option func(*options)

// WithLogger sets the logger of both the engine and the network.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEngineOptions passes options through to the payments engine.
func WithEngineOptions(opts ...payments.Option) Option {
	return func(o *options) {
		o.engine = append(o.engine, opts...)
	}
}

// New joins the vote topic on ps, creates the engine and starts its
// maintenance loop. The loop stops when ctx is cancelled or the node is
// closed.
func New(
	ctx context.Context,
	host host.Host,
	ps *pubsub.PubSub,
	registry payments.Registry,
	chain payments.Chain,
	status payments.SyncStatus,
	params payments.Parameters,
	opts ...Option,
) (*Node, error) {
	o := &options{logger: zerolog.New(os.Stdout)}
	for _, opt := range opts {
		opt(o)
	}

	network, err := p2p.NewNetwork(host, ps, params.Namespace, p2p.WithLogger(o.logger.With().Str("module", "p2p").Logger()))
	if err != nil {
		return nil, err
	}

	engineOpts := append([]payments.Option{payments.WithLogger(o.logger.With().Str("module", "payments").Logger())}, o.engine...)
	engine, err := payments.New(params, registry, chain, status, network, engineOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating engine: %w", err), network.Close())
	}
	network.Notify(engine)

	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		Engine:  engine,
		Network: network,
		cancel:  cancel,
		logger:  o.logger,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := engine.Run(ctx); err != nil {
			n.logger.Error().Err(err).Msg("payments engine stopped")
		}
	}()
	return n, nil
}

// Close stops the maintenance loop and leaves the network.
func (n *Node) Close() error {
	n.cancel()
	n.wg.Wait()
	return n.Network.Close()
}
