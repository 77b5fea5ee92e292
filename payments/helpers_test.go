package payments_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/pkg/chain"
	"github.com/cmwaters/mnpay/pkg/mnsync"
	"github.com/cmwaters/mnpay/pkg/registry"
	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testProtocolVersion = 70209

func testParams() payments.Parameters {
	params := payments.DefaultParameters()
	params.SignaturesRequired = 5
	params.Namespace = []byte("test")
	return params
}

type testNode struct {
	params      payments.Parameters
	chain       *chain.MemChain
	registry    *registry.Static
	tracker     *mnsync.Tracker
	transport   *mockTransport
	engine      *payments.Engine
	masternodes []payments.MasternodeInfo
	keys        map[payments.Outpoint]string
}

// newTestNode creates a fully synced node with n masternodes and a chain at tip.
// The engine is created by start.
func newTestNode(t *testing.T, n int, tip int64, params payments.Parameters) *testNode {
	t.Helper()
	c := chain.New(chain.DefaultParams(), []byte(t.Name()))
	c.ExtendTo(tip)

	node := &testNode{
		params:    params,
		chain:     c,
		transport: newMockTransport(),
		keys:      make(map[payments.Outpoint]string),
	}
	for i := 0; i < n; i++ {
		signer, err := sign.GenerateKeySigner()
		require.NoError(t, err)
		info := payments.MasternodeInfo{
			Outpoint:        payments.NewOutpoint(chainhash.HashH([]byte(fmt.Sprintf("collateral-%d", i))), uint32(i%2)),
			PubKey:          signer.PubKey(),
			Payee:           tx.Script(fmt.Sprintf("payee-%d", i)),
			ProtocolVersion: testProtocolVersion,
		}
		node.masternodes = append(node.masternodes, info)
		node.keys[info.Outpoint] = signer.PrivateKeyHex()
	}
	reg, err := registry.New(c, node.masternodes, registry.WithMinProtocol(params.MinProtocolVersion))
	require.NoError(t, err)
	node.registry = reg

	node.tracker = mnsync.New(time.Minute, zerolog.Nop())
	node.tracker.SetStage(mnsync.StageFinished)
	return node
}

func (n *testNode) start(t *testing.T, opts ...payments.Option) *payments.Engine {
	t.Helper()
	opts = append([]payments.Option{payments.WithLogger(zerolog.Nop())}, opts...)
	engine, err := payments.New(n.params, n.registry, n.chain, n.tracker, n.transport, opts...)
	require.NoError(t, err)
	engine.UpdatedBlockTip(context.Background(), n.chain.Tip())
	n.engine = engine
	return engine
}

func (n *testNode) signer(t *testing.T, outpoint payments.Outpoint) *sign.KeySigner {
	t.Helper()
	signer, err := sign.NewKeySignerFromHex(n.keys[outpoint])
	require.NoError(t, err)
	return signer
}

// vote returns a vote signed by the masternode. A fresh signer is used each
// time so that tests can produce conflicting votes.
func (n *testNode) vote(t *testing.T, mn payments.MasternodeInfo, height int64, payee tx.Script) *payments.Vote {
	t.Helper()
	vote := payments.NewVote(mn.Outpoint, height, mn.StartHeight, payee)
	require.NoError(t, vote.Sign(context.Background(), n.signer(t, mn.Outpoint), n.params.Namespace))
	return vote
}

// ranked returns the masternodes in rank order for votes at height.
func (n *testNode) ranked(t *testing.T, height int64) []payments.MasternodeInfo {
	t.Helper()
	ranks, ok := n.registry.Ranks(height-n.params.RankLag, n.params.MinProtocolVersion)
	require.True(t, ok)
	infos := make([]payments.MasternodeInfo, len(ranks))
	for i, r := range ranks {
		infos[i] = r.Info
	}
	return infos
}

// unsignedVote builds a vote that is only suitable for the store and tally.
func unsignedVote(index int, height int64, payee string) *payments.Vote {
	outpoint := payments.NewOutpoint(chainhash.HashH([]byte(fmt.Sprintf("voter-%d", index))), 0)
	vote := payments.NewVote(outpoint, height, 0, tx.Script(payee))
	vote.Signature = []byte("sig")
	return vote
}

var _ payments.Transport = (*mockTransport)(nil)

type mockTransport struct {
	mtx       sync.Mutex
	relayed   []*payments.Vote
	sent      map[peer.ID][]*payments.Message
	penalties map[peer.ID]int
	peers     []peer.ID
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		sent:      make(map[peer.ID][]*payments.Message),
		penalties: make(map[peer.ID]int),
	}
}

func (m *mockTransport) Relay(_ context.Context, vote *payments.Vote) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.relayed = append(m.relayed, vote.Copy())
	return nil
}

func (m *mockTransport) Send(_ context.Context, to peer.ID, msg *payments.Message) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.sent[to] = append(m.sent[to], msg)
	return nil
}

func (m *mockTransport) Misbehaving(id peer.ID, score int, _ string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.penalties[id] += score
}

func (m *mockTransport) Peers() []peer.ID {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]peer.ID(nil), m.peers...)
}

func (m *mockTransport) Relayed() []*payments.Vote {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]*payments.Vote(nil), m.relayed...)
}

func (m *mockTransport) Sent(to peer.ID) []*payments.Message {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]*payments.Message(nil), m.sent[to]...)
}

func (m *mockTransport) SentOfType(to peer.ID, msgType payments.MsgType) []*payments.Message {
	var out []*payments.Message
	for _, msg := range m.Sent(to) {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockTransport) Penalty(id peer.ID) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.penalties[id]
}
