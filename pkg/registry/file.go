package registry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/tx"
)

// Entry is the JSON form of a masternode in a registry file.
type Entry struct {
	Outpoint        payments.Outpoint `json:"outpoint"`
	PubKey          string            `json:"pubkey"`
	Payee           string            `json:"payee"`
	ProtocolVersion uint32            `json:"protocol_version"`
	StartHeight     int64             `json:"start_height"`
}

func NewEntry(info payments.MasternodeInfo) Entry {
	return Entry{
		Outpoint:        info.Outpoint,
		PubKey:          hex.EncodeToString(info.PubKey),
		Payee:           hex.EncodeToString(info.Payee),
		ProtocolVersion: info.ProtocolVersion,
		StartHeight:     info.StartHeight,
	}
}

func (e Entry) Info() (payments.MasternodeInfo, error) {
	pubKey, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return payments.MasternodeInfo{}, fmt.Errorf("masternode %s pubkey: %w", e.Outpoint, err)
	}
	payee, err := hex.DecodeString(e.Payee)
	if err != nil {
		return payments.MasternodeInfo{}, fmt.Errorf("masternode %s payee: %w", e.Outpoint, err)
	}
	return payments.MasternodeInfo{
		Outpoint:        e.Outpoint,
		PubKey:          pubKey,
		Payee:           tx.Script(payee),
		ProtocolVersion: e.ProtocolVersion,
		StartHeight:     e.StartHeight,
	}, nil
}

// Load decodes a JSON array of entries.
func Load(data []byte, chain BlockHasher, opts ...Option) (*Static, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	infos := make([]payments.MasternodeInfo, len(entries))
	for i, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return New(chain, infos, opts...)
}

func LoadFile(path string, chain BlockHasher, opts ...Option) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data, chain, opts...)
}

// Marshal encodes the masternodes of the registry as indented JSON.
func Marshal(infos []payments.MasternodeInfo) ([]byte, error) {
	entries := make([]Entry, len(infos))
	for i, info := range infos {
		entries[i] = NewEntry(info)
	}
	return json.MarshalIndent(entries, "", "  ")
}
