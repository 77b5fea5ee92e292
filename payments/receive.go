package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// fulfilled request name for vote sync requests
const syncRequestName = "mnget"

// HandleMessage processes a message received from a peer. Errors describe why
// the message was refused. Penalties have already been applied through the
// transport by the time HandleMessage returns; use Penalty to inspect them.
func (e *Engine) HandleMessage(ctx context.Context, from peer.ID, msg *Message) error {
	if msg == nil {
		return errors.New("received nil message")
	}
	if err := msg.ValidateForm(e.params.MaxInventoryBatch); err != nil {
		return err
	}

	switch msg.Type {
	case MsgSyncRequest:
		return e.handleSyncRequest(ctx, from, msg.Version)
	case MsgVote:
		return e.handleVote(ctx, from, msg.Version, msg.Vote)
	case MsgInventory:
		return e.handleInventory(ctx, from, msg.Inventory)
	case MsgGetData:
		return e.handleGetData(ctx, from, msg.Inventory)
	case MsgSyncStatusCount:
		e.logger.Info().
			Str("peer", from.String()).
			Int("topic", msg.SyncStatus.Topic).
			Int("count", msg.SyncStatus.Count).
			Msg("received sync status count")
		return nil
	case MsgReject:
		e.logger.Info().
			Str("peer", from.String()).
			Str("message", msg.Reject.Message.String()).
			Uint8("code", msg.Reject.Code).
			Str("reason", msg.Reject.Reason).
			Msg("peer rejected message")
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMessage, msg.Type)
	}
}

// checkVersion replies with a reject message to peers below the protocol floor.
func (e *Engine) checkVersion(ctx context.Context, from peer.ID, msgType MsgType, version uint32) error {
	if version >= e.params.MinProtocolVersion {
		return nil
	}
	e.logger.Debug().
		Str("peer", from.String()).
		Uint32("version", version).
		Str("message", msgType.String()).
		Msg("peer using obsolete version")
	reason := fmt.Sprintf("Version must be %d or greater", e.params.MinProtocolVersion)
	if err := e.transport.Send(ctx, from, NewRejectMessage(msgType, RejectObsolete, reason)); err != nil {
		e.logger.Debug().Err(err).Str("peer", from.String()).Msg("sending reject")
	}
	return fmt.Errorf("%w: %d", ErrObsoletePeer, version)
}

func (e *Engine) handleSyncRequest(ctx context.Context, from peer.ID, version uint32) error {
	if err := e.checkVersion(ctx, from, MsgSyncRequest, version); err != nil {
		return err
	}

	// serving the list is expensive so wait until fully synced
	if !e.status.IsSynced() {
		return nil
	}

	if e.fulfilled.Has(from, syncRequestName) {
		e.logger.Info().Str("peer", from.String()).Msg("peer already asked for the vote list")
		e.transport.Misbehaving(from, MisbehaviorPenalty, ErrRepeatedSyncRequest.Error())
		return &RejectError{Reason: ErrRepeatedSyncRequest.Error(), Penalty: MisbehaviorPenalty}
	}
	e.fulfilled.Add(from, syncRequestName)

	count, err := e.Sync(ctx, from)
	if err != nil {
		return err
	}
	e.logger.Info().Str("peer", from.String()).Int("count", count).Msg("sent payment votes")
	return nil
}

func (e *Engine) handleVote(ctx context.Context, from peer.ID, version uint32, vote *Vote) error {
	if err := e.checkVersion(ctx, from, MsgVote, version); err != nil {
		return err
	}

	hash := vote.Hash()
	tip := e.Tip()
	if e.store.HasVerifiedVote(hash) {
		e.logger.Debug().
			Str("hash", hash.String()).
			Int64("height", vote.Height).
			Int64("tip", tip).
			Msg("vote already seen")
		return nil
	}

	// votes can't be checked without the masternode list
	if !e.status.IsMasternodeListSynced() {
		return ErrNotSynced
	}

	if err := e.verifier.Validate(vote, tip); err != nil {
		var rejectErr *RejectError
		if errors.As(err, &rejectErr) {
			if rejectErr.Penalty > 0 {
				e.logger.Warn().
					Err(err).
					Str("peer", from.String()).
					Str("vote", vote.String()).
					Msg("misbehaving peer")
				e.transport.Misbehaving(from, rejectErr.Penalty, rejectErr.Reason)
			}
			if rejectErr.AskForMasternode {
				e.registry.AskFor(from, vote.Outpoint)
			}
		}
		e.logger.Debug().Err(err).Str("vote", vote.String()).Msg("invalid vote")
		return err
	}

	if e.store.HasVoted(vote.Outpoint, vote.Height) || !e.store.RecordLastVote(vote.Outpoint, vote.Height) {
		e.logger.Info().
			Str("outpoint", vote.Outpoint.String()).
			Int64("height", vote.Height).
			Msg("masternode already voted")
		return ErrAlreadyVoted
	}

	if !e.store.Ingest(vote) {
		e.logger.Debug().Str("hash", hash.String()).Msg("vote not stored")
		return nil
	}
	e.logger.Debug().
		Str("hash", hash.String()).
		Int64("height", vote.Height).
		Int64("tip", tip).
		Str("vote", vote.String()).
		Msg("new vote")

	e.relay(ctx, vote)
	e.status.BumpAssetLastTime(SyncAssetVotes)
	return nil
}
