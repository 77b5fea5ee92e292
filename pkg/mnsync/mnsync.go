// Package mnsync tracks the progress of a node's initial sync through the
// blockchain, the masternode list and the payment winners list.
package mnsync

import (
	"sync"
	"time"

	"github.com/cmwaters/mnpay/payments"
	"github.com/rs/zerolog"
)

var _ payments.SyncStatus = (*Tracker)(nil)

type Stage int

const (
	StageInitial Stage = iota
	StageBlockchain
	StageList
	StageWinners
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageBlockchain:
		return "blockchain"
	case StageList:
		return "list"
	case StageWinners:
		return "winners"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// DefaultTimeout is how long a stage waits without progress before moving on.
const DefaultTimeout = 30 * time.Second

// Tracker is a staged sync state machine. A stage is complete once no asset
// belonging to it has been bumped for the timeout.
type Tracker struct {
	timeout time.Duration
	logger  zerolog.Logger

	mtx          sync.RWMutex
	stage        Stage
	stageStarted time.Time
	lastBump     map[string]time.Time
}

func New(timeout time.Duration, logger zerolog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		timeout:      timeout,
		logger:       logger,
		stageStarted: time.Now(),
		lastBump:     make(map[string]time.Time),
	}
}

func (t *Tracker) Stage() Stage {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.stage
}

func (t *Tracker) IsBlockchainSynced() bool {
	return t.Stage() > StageBlockchain
}

func (t *Tracker) IsMasternodeListSynced() bool {
	return t.Stage() > StageList
}

func (t *Tracker) IsWinnersListSynced() bool {
	return t.Stage() > StageWinners
}

func (t *Tracker) IsSynced() bool {
	return t.Stage() == StageFinished
}

func (t *Tracker) BumpAssetLastTime(asset string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.lastBump[asset] = time.Now()
}

func (t *Tracker) AssetLastTime(asset string) (time.Time, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	last, ok := t.lastBump[asset]
	return last, ok
}

// SwitchToNext advances to the next stage.
func (t *Tracker) SwitchToNext() Stage {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.switchTo(t.stage + 1)
}

// SetStage jumps to the given stage.
func (t *Tracker) SetStage(stage Stage) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.switchTo(stage)
}

func (t *Tracker) Reset() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.lastBump = make(map[string]time.Time)
	t.switchTo(StageInitial)
}

func (t *Tracker) switchTo(stage Stage) Stage {
	if stage > StageFinished {
		stage = StageFinished
	}
	if stage == t.stage {
		return stage
	}
	t.logger.Info().
		Str("from", t.stage.String()).
		Str("to", stage.String()).
		Msg("switching sync stage")
	t.stage = stage
	t.stageStarted = time.Now()
	return stage
}

// Tick advances the winners stage once no vote has arrived for the timeout.
// Earlier stages are driven by the caller through SwitchToNext.
func (t *Tracker) Tick(now time.Time) Stage {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.stage != StageWinners {
		return t.stage
	}
	last := t.stageStarted
	if bump, ok := t.lastBump[payments.SyncAssetVotes]; ok && bump.After(last) {
		last = bump
	}
	if now.Sub(last) >= t.timeout {
		return t.switchTo(StageFinished)
	}
	return t.stage
}
