package tx

import (
	"bytes"

	"github.com/mr-tron/base58"
)

// Amount is a quantity of the chain's base unit.
type Amount int64

// Coin is the number of base units in one coin.
const Coin Amount = 100_000_000

// Script is an opaque locking script that a transaction output pays to.
type Script []byte

func (s Script) Equal(other Script) bool {
	return bytes.Equal(s, other)
}

// String renders the script as base58 so that it can be shown to operators
// in place of an address.
func (s Script) String() string {
	if len(s) == 0 {
		return "<empty>"
	}
	return base58.Encode(s)
}

func (s Script) Copy() Script {
	if s == nil {
		return nil
	}
	c := make(Script, len(s))
	copy(c, s)
	return c
}

type Output struct {
	Value  Amount
	Script Script
}

// Transaction is the subset of a coinbase transaction needed to check who
// the block pays.
type Transaction struct {
	Outputs []Output
}

// Pays returns true if the transaction has an output paying exactly
// amount to script.
func (t *Transaction) Pays(script Script, amount Amount) bool {
	if t == nil {
		return false
	}
	for _, out := range t.Outputs {
		if out.Value == amount && out.Script.Equal(script) {
			return true
		}
	}
	return false
}
