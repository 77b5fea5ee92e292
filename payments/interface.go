package payments

import (
	"context"

	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/libp2p/go-libp2p/core/peer"
)

// MasternodeInfo is the registry's view of a single masternode.
type MasternodeInfo struct {
	Outpoint Outpoint
	// PubKey is the serialized key the masternode signs votes with.
	PubKey []byte
	// Payee is the script the masternode is paid to.
	Payee           tx.Script
	ProtocolVersion uint32
	// StartHeight is the height from which the masternode is eligible for payment.
	StartHeight int64
}

// RankedMasternode pairs a masternode with its rank at some height. Ranks start at 1.
type RankedMasternode struct {
	Rank int
	Info MasternodeInfo
}

type (
	// Registry is the masternode list. Ranks are deterministic for a given
	// height so that every node agrees on which masternodes may vote.
	Registry interface {
		Masternode(outpoint Outpoint) (MasternodeInfo, bool)
		// Rank returns the rank of the masternode among those running at
		// least minProtocol, computed at height. False if the masternode is
		// not ranked or the height is unknown.
		Rank(outpoint Outpoint, height int64, minProtocol uint32) (int, bool)
		// Ranks returns every eligible masternode in rank order.
		Ranks(height int64, minProtocol uint32) ([]RankedMasternode, bool)
		// NextInQueueForPayment returns the masternode due payment at height.
		NextInQueueForPayment(height int64) (MasternodeInfo, bool)
		Size() int
		// AskFor requests the masternode's announcement from the given peer.
		AskFor(from peer.ID, outpoint Outpoint)
	}

	// Chain is a read only view of the active chain.
	Chain interface {
		BlockHash(height int64) (chainhash.Hash, bool)
		// BlockSubsidyShare is the part of the block subsidy owed to the masternode.
		BlockSubsidyShare(height int64) tx.Amount
	}

	// SyncStatus reports the progress of the node's initial sync.
	SyncStatus interface {
		IsBlockchainSynced() bool
		IsMasternodeListSynced() bool
		IsWinnersListSynced() bool
		IsSynced() bool
		BumpAssetLastTime(asset string)
	}

	// Transport sends messages to peers. Implementations must not call back
	// into the engine synchronously from Relay or Send.
	Transport interface {
		// Relay propagates a vote to the rest of the network.
		Relay(ctx context.Context, vote *Vote) error
		// Send delivers a message to a single peer.
		Send(ctx context.Context, to peer.ID, msg *Message) error
		// Misbehaving adds score to the peer's misbehavior. Peers exceeding the
		// transport's threshold are disconnected.
		Misbehaving(id peer.ID, score int, reason string)
		Peers() []peer.ID
	}
)
