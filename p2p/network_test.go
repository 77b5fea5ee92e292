package p2p

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNamespace = []byte("ZGODA")

func TestP2PNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(ctx, t, 2)
	n0, n1 := nets[0], nets[1]
	id0, id1 := n0.host.ID(), n1.host.ID()

	h0, h1 := makeHandler(), makeHandler()
	n0.Notify(h0)
	n1.Notify(h1)

	// direct messages
	require.NoError(t, n0.Send(ctx, id1, payments.NewSyncRequestMessage()))
	from, msg, err := h1.Rcv(ctx)
	require.NoError(t, err)
	assert.Equal(t, id0, from)
	assert.Equal(t, payments.MsgSyncRequest, msg.Type)

	inv := []payments.Inventory{{Type: payments.InvPaymentBlock, Hash: chainhash.HashH([]byte("block")), Height: 7}}
	require.NoError(t, n1.Send(ctx, id0, payments.NewGetDataMessage(inv)))
	from, msg, err = h0.Rcv(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, from)
	assert.Equal(t, inv, msg.Inventory)

	require.Error(t, n0.Send(ctx, id0, payments.NewSyncRequestMessage()))

	// relayed votes reach the other node
	require.Eventually(t, func() bool {
		return len(n0.Peers()) == 1 && len(n1.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	voteIn := RandVote()
	require.NoError(t, n0.Relay(ctx, voteIn))
	from, msg, err = h1.Rcv(ctx)
	require.NoError(t, err)
	assert.Equal(t, id0, from)
	require.Equal(t, payments.MsgVote, msg.Type)
	assert.Equal(t, voteIn.Hash(), msg.Vote.Hash())
	assert.Equal(t, voteIn.Signature, msg.Vote.Signature)

	// own votes are accepted without being handled
	select {
	case <-h0.msgs:
		t.Fatal("own vote handed to the handler")
	default:
	}
}

func TestValidator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(ctx, t, 2)
	n0, n1 := nets[0], nets[1]
	id0, id1 := n0.host.ID(), n1.host.ID()

	h := makeHandler()
	n0.Notify(h)

	data, err := EncodeMessage(payments.NewVoteMessage(RandVote()))
	require.NoError(t, err)
	vote := &pubsub.Message{Message: &pb.Message{Data: data}}

	require.Equal(t, pubsub.ValidationAccept, n0.validate(ctx, id0, vote))
	require.Equal(t, pubsub.ValidationIgnore, n0.validate(ctx, id1, vote))

	h.validate = func(*payments.Message) error {
		return &payments.RejectError{Reason: "forged", Penalty: payments.MisbehaviorPenalty}
	}
	require.Equal(t, pubsub.ValidationReject, n0.validate(ctx, id1, vote))

	// refused without penalty
	h.validate = func(*payments.Message) error {
		return &payments.RejectError{Reason: "too old"}
	}
	require.Equal(t, pubsub.ValidationIgnore, n0.validate(ctx, id1, vote))

	data, err = EncodeMessage(payments.NewSyncRequestMessage())
	require.NoError(t, err)
	other := &pubsub.Message{Message: &pb.Message{Data: data}}
	require.Equal(t, pubsub.ValidationReject, n0.validate(ctx, id1, other))

	garbage := &pubsub.Message{Message: &pb.Message{Data: []byte{9, 9, 9}}}
	require.Equal(t, pubsub.ValidationReject, n0.validate(ctx, id1, garbage))
}

func TestMisbehavingDisconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(ctx, t, 2)
	n0, n1 := nets[0], nets[1]
	id1 := n1.host.ID()

	n0.Misbehaving(id1, payments.MisbehaviorPenalty, "test")
	require.Equal(t, payments.MisbehaviorPenalty, n0.Score(id1))
	require.Equal(t, libp2pnetwork.Connected, n0.host.Network().Connectedness(id1))

	n0.Misbehaving(id1, DisconnectScore, "test")
	require.Zero(t, n0.Score(id1))
	require.Eventually(t, func() bool {
		return n0.host.Network().Connectedness(id1) != libp2pnetwork.Connected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMalformedStreamPenalized(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	nets := setupP2PNetworks(ctx, t, 2)
	n0, n1 := nets[0], nets[1]
	n1.Notify(makeHandler())

	s, err := n0.host.NewStream(ctx, n1.host.ID(), n0.protocol)
	require.NoError(t, err)
	_, err = s.Write([]byte{7, 1, 0})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool {
		return n1.Score(n0.host.ID()) == payments.MisbehaviorPenalty
	}, 5*time.Second, 10*time.Millisecond)
}

type handler struct {
	msgs     chan received
	validate func(*payments.Message) error
}

type received struct {
	from peer.ID
	msg  *payments.Message
}

func makeHandler() *handler {
	return &handler{
		msgs: make(chan received, 8),
		validate: func(*payments.Message) error {
			return nil
		},
	}
}

func (h *handler) Rcv(ctx context.Context) (peer.ID, *payments.Message, error) {
	select {
	case r := <-h.msgs:
		return r.from, r.msg, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (h *handler) HandleMessage(ctx context.Context, from peer.ID, msg *payments.Message) error {
	if err := h.validate(msg); err != nil {
		return err
	}
	select {
	case h.msgs <- received{from: from, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func RandVote() *payments.Vote {
	outpoint := payments.NewOutpoint(chainhash.HashH(RandBytes(32)), rand.Uint32())
	vote := payments.NewVote(outpoint, rand.Int63n(1<<30)+1, rand.Int63n(1<<20), tx.Script(RandBytes(25)))
	vote.Signature = RandBytes(65)
	return vote
}

func RandBytes(n int) []byte {
	bs := make([]byte, n)
	for i := 0; i < len(bs); i++ {
		bs[i] = byte(rand.Int() & 0xFF)
	}
	return bs
}

func setupP2PNetworks(ctx context.Context, t *testing.T, n int) []*Network {
	mn, err := mocknet.FullMeshLinked(n)
	require.NoError(t, err)

	nets := make([]*Network, n)
	for i := range nets {
		ps, err := pubsub.NewGossipSub(ctx, mn.Hosts()[i])
		require.NoError(t, err)
		nets[i], err = NewNetwork(mn.Hosts()[i], ps, testNamespace, WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		net := nets[i]
		t.Cleanup(func() {
			require.NoError(t, net.Close())
		})
	}

	err = mn.ConnectAllButSelf()
	require.NoError(t, err)
	return nets
}
