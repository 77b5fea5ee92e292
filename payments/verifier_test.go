package payments_test

import (
	"context"
	"testing"

	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/pkg/mnsync"
	"github.com/cmwaters/mnpay/pkg/registry"
	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func requireReject(t *testing.T, err error, penalty int, askFor bool) {
	t.Helper()
	var rejectErr *payments.RejectError
	require.ErrorAs(t, err, &rejectErr)
	require.Equal(t, penalty, rejectErr.Penalty, rejectErr.Reason)
	require.Equal(t, askFor, rejectErr.AskForMasternode, rejectErr.Reason)
	require.Equal(t, penalty, payments.Penalty(err))
}

func TestVerifierValidate(t *testing.T) {
	const tip = 1000
	params := testParams()
	params.MinBlocksToStore = 100
	node := newTestNode(t, 30, tip, params)
	verifier := payments.NewVerifier(params, node.registry, node.tracker, sign.VerifyCompact, false)
	payee := tx.Script("payee")

	t.Run("valid future vote", func(t *testing.T) {
		voter := node.ranked(t, tip+5)[0]
		require.NoError(t, verifier.Validate(node.vote(t, voter, tip+5, payee), tip))
	})

	t.Run("malformed vote", func(t *testing.T) {
		voter := node.ranked(t, tip+5)[0]
		vote := node.vote(t, voter, tip+5, payee)
		vote.Signature = nil
		requireReject(t, verifier.Validate(vote, tip), 0, false)
	})

	t.Run("unknown masternode", func(t *testing.T) {
		vote := payments.NewVote(payments.NewOutpoint(chainhash.HashH([]byte("unknown")), 0), tip+5, 0, payee)
		vote.Signature = []byte("sig")
		requireReject(t, verifier.Validate(vote, tip), 0, true)
	})

	t.Run("out of window", func(t *testing.T) {
		voter := node.ranked(t, tip+21)[0]
		requireReject(t, verifier.Validate(node.vote(t, voter, tip+21, payee), tip), 0, false)

		voter = node.ranked(t, tip+20)[0]
		require.NoError(t, verifier.Validate(node.vote(t, voter, tip+20, payee), tip))

		// the storage limit is 100 blocks
		requireReject(t, verifier.Validate(node.vote(t, voter, tip-101, payee), tip), 0, false)
		require.NoError(t, verifier.Validate(node.vote(t, voter, tip-100, payee), tip))
	})

	t.Run("rank", func(t *testing.T) {
		ranked := node.ranked(t, tip+5)
		// moderately outside the top 10
		requireReject(t, verifier.Validate(node.vote(t, ranked[10], tip+5, payee), tip), 0, false)
		requireReject(t, verifier.Validate(node.vote(t, ranked[19], tip+5, payee), tip), 0, false)
		// far outside the top 10 on a future block
		requireReject(t, verifier.Validate(node.vote(t, ranked[20], tip+5, payee), tip), payments.MisbehaviorPenalty, false)

		// past votes are not rank checked by a node that doesn't vote
		past := node.ranked(t, tip-5)
		require.NoError(t, verifier.Validate(node.vote(t, past[25], tip-5, payee), tip))
		require.NoError(t, verifier.Validate(node.vote(t, past[25], tip, payee), tip))

		// but are by a masternode, without penalty
		voting := payments.NewVerifier(params, node.registry, node.tracker, sign.VerifyCompact, true)
		requireReject(t, voting.Validate(node.vote(t, past[25], tip-5, payee), tip), 0, false)
		require.NoError(t, voting.Validate(node.vote(t, past[0], tip-5, payee), tip))
	})

	t.Run("bad signature", func(t *testing.T) {
		ranked := node.ranked(t, tip+5)
		forged := payments.NewVote(ranked[0].Outpoint, tip+5, 0, payee)
		require.NoError(t, forged.Sign(context.Background(), node.signer(t, ranked[1].Outpoint), params.Namespace))
		requireReject(t, verifier.Validate(forged, tip), payments.MisbehaviorPenalty, true)

		past := node.ranked(t, tip-5)
		forged = payments.NewVote(past[0].Outpoint, tip-5, 0, payee)
		require.NoError(t, forged.Sign(context.Background(), node.signer(t, past[1].Outpoint), params.Namespace))
		requireReject(t, verifier.Validate(forged, tip), 0, true)
	})
}

func TestVerifierUnsyncedList(t *testing.T) {
	const tip = 1000
	params := testParams()
	node := newTestNode(t, 20, tip, params)
	node.tracker.SetStage(mnsync.StageList)
	verifier := payments.NewVerifier(params, node.registry, node.tracker, sign.VerifyCompact, false)

	vote := payments.NewVote(payments.NewOutpoint(chainhash.HashH([]byte("unknown")), 0), tip+5, 0, tx.Script("payee"))
	vote.Signature = []byte("sig")
	requireReject(t, verifier.Validate(vote, tip), 0, false)

	ranked := node.ranked(t, tip+5)
	forged := payments.NewVote(ranked[0].Outpoint, tip+5, 0, tx.Script("payee"))
	require.NoError(t, forged.Sign(context.Background(), node.signer(t, ranked[1].Outpoint), params.Namespace))
	requireReject(t, verifier.Validate(forged, tip), 0, true)
}

func TestVerifierProtocolFloor(t *testing.T) {
	const tip = 1000
	params := testParams()
	node := newTestNode(t, 20, tip, params)
	infos := append([]payments.MasternodeInfo(nil), node.masternodes...)
	infos[3].ProtocolVersion = params.MinProtocolVersion - 1
	reg, err := registry.New(node.chain, infos)
	require.NoError(t, err)
	verifier := payments.NewVerifier(params, reg, node.tracker, sign.VerifyCompact, false)

	requireReject(t, verifier.Validate(node.vote(t, infos[3], tip+5, tx.Script("payee")), tip), 0, false)
}
