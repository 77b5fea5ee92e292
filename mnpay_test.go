package mnpay_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cmwaters/mnpay"
	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/pkg/chain"
	"github.com/cmwaters/mnpay/pkg/mnsync"
	"github.com/cmwaters/mnpay/pkg/registry"
	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const tip = 995

func TestNodesExchangeVotes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	params := payments.DefaultParameters()
	params.SignaturesRequired = 5
	params.Namespace = []byte("testnet")

	var infos []payments.MasternodeInfo
	signers := make(map[payments.Outpoint]*sign.KeySigner)
	for i := 0; i < 20; i++ {
		signer, err := sign.GenerateKeySigner()
		require.NoError(t, err)
		info := payments.MasternodeInfo{
			Outpoint:        payments.NewOutpoint(chainhash.HashH([]byte(fmt.Sprintf("mn-%d", i))), 0),
			PubKey:          signer.PubKey(),
			Payee:           tx.Script(fmt.Sprintf("payee-%d", i)),
			ProtocolVersion: payments.ProtocolVersion,
		}
		infos = append(infos, info)
		signers[info.Outpoint] = signer
	}

	mn, err := mocknet.FullMeshLinked(2)
	require.NoError(t, err)

	target := tip + params.VoteAhead
	nodes := make([]*mnpay.Node, 2)
	for i := range nodes {
		c := chain.New(chain.DefaultParams(), []byte("testnet"))
		c.ExtendTo(tip)
		reg, err := registry.New(c, infos, registry.WithMinProtocol(params.MinProtocolVersion))
		require.NoError(t, err)
		tracker := mnsync.New(time.Minute, zerolog.Nop())
		tracker.SetStage(mnsync.StageFinished)

		var opts []mnpay.Option
		opts = append(opts, mnpay.WithLogger(zerolog.Nop()))
		if i == 0 {
			ranks, ok := reg.Ranks(target-params.RankLag, params.MinProtocolVersion)
			require.True(t, ok)
			voter := ranks[0].Info.Outpoint
			opts = append(opts, mnpay.WithEngineOptions(payments.WithActiveMasternode(voter, signers[voter])))
		}

		ps, err := pubsub.NewGossipSub(ctx, mn.Hosts()[i])
		require.NoError(t, err)
		nodes[i], err = mnpay.New(ctx, mn.Hosts()[i], ps, reg, c, tracker, params, opts...)
		require.NoError(t, err)
		node := nodes[i]
		t.Cleanup(func() {
			require.NoError(t, node.Close())
		})
	}
	require.NoError(t, mn.ConnectAllButSelf())
	require.Eventually(t, func() bool {
		return len(nodes[0].Network.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	nodes[1].UpdatedBlockTip(ctx, tip)
	nodes[0].UpdatedBlockTip(ctx, tip)
	expected, ok := nodes[0].PayeeForHeight(target)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		payee, ok := nodes[1].PayeeForHeight(target)
		return ok && payee.Equal(expected)
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, nodes[0].IsRunning())
}
