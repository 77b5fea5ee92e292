package payments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cmwaters/mnpay/pkg/netfulfilled"
	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/cmwaters/mnpay/tx"
	"github.com/rs/zerolog"
)

// Engine ties vote validation, storage and synchronization together and
// exposes the payee queries used by block production and validation.
//
// In order to function it depends on a masternode registry, a read only view
// of the chain, the node's sync progress and a transport for reaching peers.
// An optional signer turns the engine into a voter for the masternode it
// belongs to.
//
// The engine runs only in memory. After a restart the vote window is rebuilt
// from peers.
type Engine struct {
	params    Parameters
	registry  Registry
	chain     Chain
	status    SyncStatus
	transport Transport

	store     *Store
	verifier  *Verifier
	fulfilled *netfulfilled.Manager

	// signer and activeMasternode are only set if the node is a masternode
	activeMasternode *Outpoint
	signer           sign.Signer
	verify           sign.VerifyFunc

	tip atomic.Int64

	// running tracks whether the maintenance loop is active
	running atomic.Bool

	logger zerolog.Logger
}

// New creates a new payments engine
func New(
	params Parameters,
	registry Registry,
	chain Chain,
	status SyncStatus,
	transport Transport,
	opts ...Option,
) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	e := &Engine{
		params:    params,
		registry:  registry,
		chain:     chain,
		status:    status,
		transport: transport,
		verify:    sign.VerifyCompact,
		logger:    zerolog.New(os.Stdout),
	}

	for _, opt := range opts {
		opt(e)
	}

	if (e.signer == nil) != (e.activeMasternode == nil) {
		return nil, errors.New("active masternode requires both an outpoint and a signer")
	}

	e.store = NewStore(params, registry, chain)
	e.verifier = NewVerifier(params, registry, status, e.verify, e.IsMasternode())
	e.fulfilled = netfulfilled.New(netfulfilled.DefaultSize, params.SyncRequestTTL)
	return e, nil
}

func (e *Engine) IsMasternode() bool {
	return e.activeMasternode != nil
}

func (e *Engine) Tip() int64 {
	return e.tip.Load()
}

func (e *Engine) Store() *Store {
	return e.store
}

func (e *Engine) Parameters() Parameters {
	return e.params
}

// UpdatedBlockTip is called for every new tip. It records which masternodes
// failed to vote on the block about to be produced and, for a masternode,
// votes on the payee VoteAhead blocks above the tip.
func (e *Engine) UpdatedBlockTip(ctx context.Context, height int64) {
	e.tip.Store(height)
	e.logger.Debug().Int64("height", height).Msg("updated block tip")

	futureBlock := height + e.params.VoteAhead
	e.CheckBlockVotes(futureBlock - 1)

	if !e.IsMasternode() {
		return
	}
	vote, err := e.ProcessBlock(ctx, futureBlock)
	switch {
	case err == nil:
		e.logger.Info().
			Int64("height", vote.Height).
			Str("payee", vote.Payee.String()).
			Msg("voted for payee")
	case errors.Is(err, ErrNotEligible), errors.Is(err, ErrNotSynced):
		e.logger.Debug().Err(err).Int64("height", futureBlock).Msg("not voting")
	default:
		e.logger.Error().Err(err).Int64("height", futureBlock).Msg("producing vote")
	}
}

// ProcessBlock votes for the masternode next in line for payment at height.
// The node must be an active masternode ranked within SignaturesTotal.
func (e *Engine) ProcessBlock(ctx context.Context, height int64) (*Vote, error) {
	if !e.IsMasternode() {
		return nil, ErrNotMasternode
	}
	// without the masternode list there is little chance of picking the right winner
	if !e.status.IsMasternodeListSynced() {
		return nil, ErrNotSynced
	}

	rank, ok := e.registry.Rank(*e.activeMasternode, height-e.params.RankLag, e.params.MinProtocolVersion)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMasternode, e.activeMasternode)
	}
	if rank > e.params.SignaturesTotal {
		return nil, fmt.Errorf("%w: rank %d, top %d", ErrNotEligible, rank, e.params.SignaturesTotal)
	}

	next, ok := e.registry.NextInQueueForPayment(height)
	if !ok {
		return nil, ErrNoPayee
	}

	vote := NewVote(*e.activeMasternode, height, next.StartHeight, next.Payee)
	if err := vote.Sign(ctx, e.signer, e.params.Namespace); err != nil {
		return nil, err
	}

	if !e.store.Ingest(vote) {
		return nil, fmt.Errorf("%w: height %d", ErrVoteNotStored, height)
	}
	e.relay(ctx, vote)
	return vote, nil
}

// CheckBlockVotes compares the masternodes ranked to vote at height with the
// votes received and records every absentee. It returns the absentees.
func (e *Engine) CheckBlockVotes(height int64) []Outpoint {
	if !e.status.IsWinnersListSynced() {
		return nil
	}

	ranks, ok := e.registry.Ranks(height-e.params.RankLag, e.params.MinProtocolVersion)
	if !ok {
		e.logger.Info().Int64("height", height).Msg("failed to get masternode ranks")
		return nil
	}

	voters := e.store.VotersAt(height)
	var missed []Outpoint
	for i, mn := range ranks {
		if i >= e.params.SignaturesTotal {
			break
		}
		if payee, ok := voters[mn.Info.Outpoint]; ok {
			e.logger.Debug().
				Int64("height", height).
				Str("outpoint", mn.Info.Outpoint.String()).
				Str("payee", payee.String()).
				Msg("masternode voted")
			continue
		}
		count := e.store.RecordMissedVote(mn.Info.Outpoint)
		missed = append(missed, mn.Info.Outpoint)
		e.logger.Debug().
			Int64("height", height).
			Str("outpoint", mn.Info.Outpoint.String()).
			Int("missed", count).
			Msg("no vote received")
	}
	return missed
}

// FillBlockPayee returns the output paying amount to the payee of height. When
// no vote has been tallied it falls back to the registry's payment queue and
// reports so.
func (e *Engine) FillBlockPayee(height int64, amount tx.Amount) (tx.Output, bool, error) {
	if payee, ok := e.store.BestPayee(height); ok {
		e.logger.Info().
			Int64("height", height).
			Int64("amount", int64(amount)).
			Str("payee", payee.String()).
			Msg("masternode payment")
		return tx.Output{Value: amount, Script: payee}, false, nil
	}

	next, ok := e.registry.NextInQueueForPayment(height)
	if !ok {
		e.logger.Error().Int64("height", height).Msg("failed to detect masternode to pay")
		return tx.Output{}, false, ErrNoPayee
	}
	e.logger.Info().
		Int64("height", height).
		Int64("amount", int64(amount)).
		Str("payee", next.Payee.String()).
		Msg("masternode payment from local queue")
	return tx.Output{Value: amount, Script: next.Payee.Copy()}, true, nil
}

// RequiredPayment is the amount a block at height must pay its masternode.
func (e *Engine) RequiredPayment(height int64, fee tx.Amount) tx.Amount {
	return e.chain.BlockSubsidyShare(height) + fee/2
}

// IsTransactionValid reports whether the coinbase transaction of the block at
// height pays the tallied payee. It is lenient whenever the tally is missing
// or has not reached SignaturesRequired.
func (e *Engine) IsTransactionValid(transaction *tx.Transaction, height int64, fee tx.Amount) bool {
	required := e.RequiredPayment(height, fee)
	valid := e.store.IsTransactionValid(transaction, height, required)
	if !valid {
		e.logger.Error().
			Int64("height", height).
			Int64("amount", int64(required)).
			Str("payees", e.store.RequiredPaymentsString(height)).
			Msg("missing required payment")
	}
	return valid
}

func (e *Engine) PayeeForHeight(height int64) (tx.Script, bool) {
	return e.store.BestPayee(height)
}

// IsScheduled reports whether the masternode is the tallied payee for any
// height within ScheduledLookahead blocks of the tip, other than notHeight.
// Heights without a tally do not fall back to the registry's payment queue,
// so a masternode only due through FillBlockPayee's fallback is not scheduled.
func (e *Engine) IsScheduled(mn MasternodeInfo, notHeight int64) bool {
	if !e.status.IsMasternodeListSynced() {
		return false
	}
	tip := e.Tip()
	for h := tip; h <= tip+e.params.ScheduledLookahead; h++ {
		if h == notHeight {
			continue
		}
		if payee, ok := e.store.BestPayee(h); ok && payee.Equal(mn.Payee) {
			return true
		}
	}
	return false
}

func (e *Engine) RequiredPaymentsString(height int64) string {
	return e.store.RequiredPaymentsString(height)
}

func (e *Engine) IsEnoughData() bool {
	return e.store.IsEnoughData()
}

// CheckAndRemove prunes votes that have fallen out of the storage window. It
// does nothing until the blockchain is synced.
func (e *Engine) CheckAndRemove() int {
	if !e.status.IsBlockchainSynced() {
		return 0
	}
	removed := e.store.Prune(e.Tip())
	e.logger.Info().Int("removed", removed).Str("store", e.store.String()).Msg("check and remove")
	return removed
}

// Run performs periodic maintenance until the context is cancelled: pruning
// old votes and asking every peer for heights with little or no data.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.running.Store(false)

	ticker := time.NewTicker(e.params.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.maintain(ctx)
		}
	}
}

func (e *Engine) maintain(ctx context.Context) {
	e.CheckAndRemove()
	for _, p := range e.transport.Peers() {
		if _, err := e.RequestLowDataPaymentBlocks(ctx, p); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Info().Err(err).Str("peer", p.String()).Msg("requesting payment blocks")
		}
	}
}

func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

func (e *Engine) String() string {
	return e.store.String()
}

func (e *Engine) relay(ctx context.Context, vote *Vote) {
	if !e.status.IsSynced() {
		e.logger.Debug().Str("hash", vote.Hash().String()).Msg("won't relay until fully synced")
		return
	}
	if err := e.transport.Relay(ctx, vote); err != nil {
		e.logger.Error().Err(err).Str("hash", vote.Hash().String()).Msg("relaying vote")
	}
}
