package p2p

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/cmwaters/mnpay/payments"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestCodec(t *testing.T) {
	t.Run("vote", func(t *testing.T) {
		vote := RandVote()
		frame, err := EncodeMessage(payments.NewVoteMessage(vote))
		require.NoError(t, err)
		msg, err := DecodeMessage(frame)
		require.NoError(t, err)
		require.Equal(t, payments.MsgVote, msg.Type)
		require.Equal(t, payments.ProtocolVersion, msg.Version)
		require.Equal(t, vote.Hash(), msg.Vote.Hash())
	})

	t.Run("large inventory is compressed", func(t *testing.T) {
		inv := make([]payments.Inventory, 1000)
		for i := range inv {
			inv[i] = payments.Inventory{Type: payments.InvPaymentBlock, Height: int64(i)}
		}
		frame, err := EncodeMessage(payments.NewGetDataMessage(inv))
		require.NoError(t, err)
		require.Equal(t, snappyHeader, frame[0])
		msg, err := DecodeMessage(frame)
		require.NoError(t, err)
		require.Equal(t, inv, msg.Inventory)
	})

	t.Run("stream of frames", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, payments.NewSyncRequestMessage()))
		require.NoError(t, WriteMessage(&buf, payments.NewSyncStatusCountMessage(payments.SyncTopicVotes, 4)))
		r := bufio.NewReader(&buf)

		msg, err := ReadMessage(r)
		require.NoError(t, err)
		require.Equal(t, payments.MsgSyncRequest, msg.Type)
		msg, err = ReadMessage(r)
		require.NoError(t, err)
		require.Equal(t, 4, msg.SyncStatus.Count)
		_, err = ReadMessage(r)
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated", func(t *testing.T) {
		frame, err := EncodeMessage(payments.NewInventoryMessage([]payments.Inventory{
			{Type: payments.InvVote, Hash: chainhash.HashH([]byte("vote"))},
		}))
		require.NoError(t, err)
		_, err = DecodeMessage(frame[:len(frame)-1])
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("unknown header", func(t *testing.T) {
		_, err := DecodeMessage([]byte{7, 1, '{'})
		require.Error(t, err)
	})

	t.Run("forged decompressed size", func(t *testing.T) {
		// a snappy block claiming a 4 GiB output
		block := binary.AppendUvarint(nil, 0xFFFFFFF0)
		block = append(block, 0, 0)
		frame := binary.AppendUvarint([]byte{snappyHeader}, uint64(len(block)))
		frame = append(frame, block...)
		_, err := DecodeMessage(frame)
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("decompressed size just over the limit", func(t *testing.T) {
		block := binary.AppendUvarint(nil, maxFrameSize+1)
		frame := binary.AppendUvarint([]byte{snappyHeader}, uint64(len(block)))
		frame = append(frame, block...)
		_, err := DecodeMessage(frame)
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("oversized header in stream", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(binary.AppendUvarint([]byte{snappyHeader}, maxFrameSize+1))
		_, err := ReadMessage(bufio.NewReader(&buf))
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("oversized", func(t *testing.T) {
		frame := binary.AppendUvarint([]byte{uncompressedHeader}, maxFrameSize+1)
		_, err := DecodeMessage(frame)
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})
}
