package p2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cmwaters/mnpay/network"
	"github.com/cmwaters/mnpay/payments"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"
)

const (
	// DisconnectScore is the misbehavior score at which a peer is disconnected.
	DisconnectScore = 100

	sendTimeout = 10 * time.Second
)

// TopicName is the gossip topic votes are relayed on.
func TopicName(namespace []byte) string {
	return fmt.Sprintf("/mnpay/%s/votes/1", namespace)
}

// ProtocolID is the stream protocol used for messages sent to a single peer.
func ProtocolID(namespace []byte) protocol.ID {
	return protocol.ID(fmt.Sprintf("/mnpay/%s/msg/1", namespace))
}

var _ network.Network = (*Network)(nil)

// Network relays votes over a gossipsub topic and exchanges sync messages over
// libp2p streams. Both are scoped to a namespace so that nodes of different
// networks sharing a host do not collide.
type Network struct {
	host     host.Host
	ps       *pubsub.PubSub
	tp       *pubsub.Topic
	sub      *pubsub.Subscription
	protocol protocol.ID

	handlerMtx sync.RWMutex
	handler    network.Handler

	scoreMtx sync.Mutex
	scores   map[peer.ID]int

	// ctx is handed to the handler for messages arriving on streams
	ctx    context.Context
	cancel context.CancelFunc

	logger zerolog.Logger
}

type Option func(*Network)

// WithLogger sets the logger used by the network
func WithLogger(logger zerolog.Logger) Option {
	return func(n *Network) {
		n.logger = logger
	}
}

func NewNetwork(h host.Host, ps *pubsub.PubSub, namespace []byte, opts ...Option) (*Network, error) {
	topic, err := ps.Join(TopicName(namespace))
	if err != nil {
		return nil, fmt.Errorf("joining vote topic: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Network{
		host:     h,
		ps:       ps,
		tp:       topic,
		protocol: ProtocolID(namespace),
		scores:   make(map[peer.ID]int),
		ctx:      ctx,
		cancel:   cancel,
		logger:   zerolog.New(os.Stdout),
	}
	for _, opt := range opts {
		opt(n)
	}

	if err := n.ensureSubscribed(); err != nil {
		cancel()
		return nil, errors.Join(fmt.Errorf("subscribing to vote topic: %w", err), topic.Close())
	}
	h.SetStreamHandler(n.protocol, n.handleStream)
	return n, nil
}

func (n *Network) Relay(ctx context.Context, vote *payments.Vote) error {
	data, err := EncodeMessage(payments.NewVoteMessage(vote))
	if err != nil {
		return err
	}
	return n.tp.Publish(ctx, data)
}

func (n *Network) Send(ctx context.Context, to peer.ID, msg *payments.Message) error {
	if to == n.host.ID() {
		return errors.New("sending message to self")
	}
	s, err := n.host.NewStream(ctx, to, n.protocol)
	if err != nil {
		return fmt.Errorf("opening stream to %s: %w", to, err)
	}
	_ = s.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := WriteMessage(s, msg); err != nil {
		_ = s.Reset()
		return err
	}
	return s.Close()
}

// Misbehaving adds score to the peer's misbehavior score and disconnects the
// peer once it reaches DisconnectScore.
func (n *Network) Misbehaving(id peer.ID, score int, reason string) {
	n.scoreMtx.Lock()
	n.scores[id] += score
	total := n.scores[id]
	if total >= DisconnectScore {
		delete(n.scores, id)
	}
	n.scoreMtx.Unlock()

	n.logger.Info().
		Str("peer", id.String()).
		Int("score", score).
		Int("total", total).
		Str("reason", reason).
		Msg("peer misbehaving")
	if total < DisconnectScore {
		return
	}
	if err := n.host.Network().ClosePeer(id); err != nil {
		n.logger.Error().Err(err).Str("peer", id.String()).Msg("disconnecting peer")
	}
}

// Score returns the peer's current misbehavior score.
func (n *Network) Score(id peer.ID) int {
	n.scoreMtx.Lock()
	defer n.scoreMtx.Unlock()
	return n.scores[id]
}

// Peers returns the peers subscribed to the vote topic.
func (n *Network) Peers() []peer.ID {
	return n.tp.ListPeers()
}

// Notify registers the handler for direct messages and for votes gossiped on
// the topic. Votes published by this node are always accepted. A foreign vote
// is rejected if handling it earned the sender a penalty and ignored
// otherwise: the handler relays the votes it accepts itself.
func (n *Network) Notify(h network.Handler) {
	n.handlerMtx.Lock()
	n.handler = h
	n.handlerMtx.Unlock()

	// error can be safely ignored
	_ = n.ps.UnregisterTopicValidator(n.tp.String())
	_ = n.ps.RegisterTopicValidator(n.tp.String(), n.validate)
}

func (n *Network) validate(ctx context.Context, from peer.ID, pmsg *pubsub.Message) pubsub.ValidationResult {
	if from == n.host.ID() {
		return pubsub.ValidationAccept
	}

	msg, err := DecodeMessage(pmsg.Data)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", from.String()).Msg("malformed gossip")
		return pubsub.ValidationReject
	}
	if msg.Type != payments.MsgVote {
		return pubsub.ValidationReject
	}

	h := n.getHandler()
	if h == nil {
		return pubsub.ValidationIgnore
	}
	if err := h.HandleMessage(ctx, from, msg); payments.Penalty(err) > 0 {
		return pubsub.ValidationReject
	}
	return pubsub.ValidationIgnore
}

func (n *Network) handleStream(s libp2pnetwork.Stream) {
	defer s.Close()
	from := s.Conn().RemotePeer()
	r := bufio.NewReader(s)
	for {
		msg, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			n.logger.Debug().Err(err).Str("peer", from.String()).Msg("reading message")
			n.Misbehaving(from, payments.MisbehaviorPenalty, "malformed message")
			_ = s.Reset()
			return
		}

		h := n.getHandler()
		if h == nil {
			continue
		}
		if err := h.HandleMessage(n.ctx, from, msg); err != nil {
			n.logger.Debug().
				Err(err).
				Str("peer", from.String()).
				Str("message", msg.Type.String()).
				Msg("refused message")
		}
	}
}

func (n *Network) getHandler() network.Handler {
	n.handlerMtx.RLock()
	defer n.handlerMtx.RUnlock()
	return n.handler
}

func (n *Network) Close() (err error) {
	n.cancel()
	n.host.RemoveStreamHandler(n.protocol)
	n.sub.Cancel()
	if n.getHandler() != nil {
		err = errors.Join(err, n.ps.UnregisterTopicValidator(n.tp.String()))
	}
	err = errors.Join(err, n.tp.Close())
	return err
}

// ensureSubscribed maintains one and only subscription for the topic
// PubSub requires at least one subscription in order to work correctly.
// The Network interface does not need the notion of subscribers and relies
// only on validators.
func (n *Network) ensureSubscribed() error {
	sub, err := n.tp.Subscribe()
	if err != nil {
		return err
	}
	n.sub = sub

	go func() {
		for {
			_, err := sub.Next(context.Background())
			if err != nil {
				// happens when subscription is canceled
				return
			}
			// simply ignore messages
		}
	}()
	return nil
}
