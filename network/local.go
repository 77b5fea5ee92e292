package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cmwaters/mnpay/payments"
	"github.com/libp2p/go-libp2p/core/peer"
)

// inboxSize bounds the messages queued for a local node. Messages beyond it
// are dropped, the way a saturated peer connection would drop them.
const inboxSize = 4096

var (
	ErrUnknownPeer = errors.New("unknown peer")
	ErrInboxFull   = errors.New("peer inbox full")
	ErrClosed      = errors.New("network closed")
)

// LocalNetwork connects nodes running in the same process. Every message is
// serialized on send and delivered asynchronously, one at a time per node, so
// handlers never run on the sender's goroutine.
type LocalNetwork struct {
	mtx       sync.RWMutex
	nodes     map[peer.ID]*LocalGossip
	penalties map[peer.ID]int
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		nodes:     make(map[peer.ID]*LocalGossip),
		penalties: make(map[peer.ID]int),
	}
}

// Join adds a node to the network. Messages for it are queued until a handler
// is registered through Notify.
func (n *LocalNetwork) Join(id peer.ID) (*LocalGossip, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if _, ok := n.nodes[id]; ok {
		return nil, fmt.Errorf("peer %s already joined", id)
	}
	g := &LocalGossip{
		id:    id,
		net:   n,
		inbox: make(chan envelope, inboxSize),
		done:  make(chan struct{}),
	}
	n.nodes[id] = g
	return g, nil
}

// Penalty returns the total misbehavior score reported against id.
func (n *LocalNetwork) Penalty(id peer.ID) int {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.penalties[id]
}

func (n *LocalNetwork) node(id peer.ID) (*LocalGossip, bool) {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	g, ok := n.nodes[id]
	return g, ok
}

// peers returns every node except self, sorted.
func (n *LocalNetwork) peers(self peer.ID) []peer.ID {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	ids := make([]peer.ID, 0, len(n.nodes))
	for id := range n.nodes {
		if id != self {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *LocalNetwork) leave(id peer.ID) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	delete(n.nodes, id)
}

func (n *LocalNetwork) misbehaving(id peer.ID, score int) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.penalties[id] += score
}

type envelope struct {
	from peer.ID
	data []byte
}

var _ Network = (*LocalGossip)(nil)

// LocalGossip is a single node's view of a LocalNetwork.
type LocalGossip struct {
	id  peer.ID
	net *LocalNetwork

	inbox chan envelope

	notifyOnce sync.Once
	handler    Handler

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func (l *LocalGossip) ID() peer.ID {
	return l.id
}

// Relay floods the vote to every other node. Receivers relay it further once
// they have accepted it.
func (l *LocalGossip) Relay(ctx context.Context, vote *payments.Vote) error {
	msg := payments.NewVoteMessage(vote)
	var err error
	for _, id := range l.net.peers(l.id) {
		err = errors.Join(err, l.Send(ctx, id, msg))
	}
	return err
}

func (l *LocalGossip) Send(ctx context.Context, to peer.ID, msg *payments.Message) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	dst, ok := l.net.node(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	select {
	case dst.inbox <- envelope{from: l.id, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s", ErrInboxFull, to)
	}
}

func (l *LocalGossip) Misbehaving(id peer.ID, score int, _ string) {
	l.net.misbehaving(id, score)
}

func (l *LocalGossip) Peers() []peer.ID {
	return l.net.peers(l.id)
}

// Notify starts delivering queued and future messages to h.
func (l *LocalGossip) Notify(h Handler) {
	l.notifyOnce.Do(func() {
		l.handler = h
		l.wg.Add(1)
		go l.deliver()
	})
}

func (l *LocalGossip) deliver() {
	defer l.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-l.done
		cancel()
	}()

	for {
		select {
		case <-l.done:
			return
		case env := <-l.inbox:
			var msg payments.Message
			if err := json.Unmarshal(env.data, &msg); err != nil {
				l.net.misbehaving(env.from, payments.MisbehaviorPenalty)
				continue
			}
			// refusals are reported by the handler itself
			_ = l.handler.HandleMessage(ctx, env.from, &msg)
		}
	}
}

// Close stops delivery and removes the node from the network.
func (l *LocalGossip) Close() error {
	l.closeOnce.Do(func() {
		l.net.leave(l.id)
		close(l.done)
	})
	l.wg.Wait()
	return nil
}
