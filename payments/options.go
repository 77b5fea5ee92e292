package payments

import (
	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/rs/zerolog"
)

// Option is a set of configurable parameters. If left empty, defaults
// will be used
type Option func(e *Engine)

// WithLogger sets the logger used by the engine
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithActiveMasternode makes the engine vote as the masternode identified by
// outpoint, signing with signer. The signer's key must match the key the
// masternode is registered with.
func WithActiveMasternode(outpoint Outpoint, signer sign.Signer) Option {
	return func(e *Engine) {
		e.activeMasternode = &outpoint
		e.signer = signer
	}
}

// WithVerifyFunc sets how vote signatures are verified. It must match the
// scheme used by the masternodes' signers. Defaults to sign.VerifyCompact.
func WithVerifyFunc(verify sign.VerifyFunc) Option {
	return func(e *Engine) {
		e.verify = verify
	}
}
