package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// MsgType tags the payload carried by a Message.
type MsgType uint8

const (
	// MsgSyncRequest asks a peer for the votes it holds above its tip.
	MsgSyncRequest MsgType = iota + 1
	// MsgVote carries a single vote.
	MsgVote
	// MsgSyncStatusCount tells a peer how many inventory entries were advertised.
	MsgSyncStatusCount
	// MsgInventory advertises votes by hash.
	MsgInventory
	// MsgGetData requests votes or whole payment blocks.
	MsgGetData
	// MsgReject informs a peer that one of its messages was refused.
	MsgReject
)

func (t MsgType) String() string {
	switch t {
	case MsgSyncRequest:
		return "mnget"
	case MsgVote:
		return "mnw"
	case MsgSyncStatusCount:
		return "ssc"
	case MsgInventory:
		return "inv"
	case MsgGetData:
		return "getdata"
	case MsgReject:
		return "reject"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// InvType is the kind of object an Inventory entry refers to.
type InvType uint8

const (
	// InvVote refers to a single vote by its hash.
	InvVote InvType = iota + 1
	// InvPaymentBlock refers to every vote at a height, identified by the block hash.
	InvPaymentBlock
)

type Inventory struct {
	Type InvType
	Hash chainhash.Hash
	// Height is set for payment blocks.
	Height int64
}

type inventoryJSON struct {
	Type   InvType `json:"type"`
	Hash   string  `json:"hash"`
	Height int64   `json:"height,omitempty"`
}

func (i Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inventoryJSON{Type: i.Type, Hash: i.Hash.String(), Height: i.Height})
}

func (i *Inventory) UnmarshalJSON(data []byte) error {
	var raw inventoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	hash, err := chainhash.NewHashFromStr(raw.Hash)
	if err != nil {
		return fmt.Errorf("inventory hash: %w", err)
	}
	*i = Inventory{Type: raw.Type, Hash: *hash, Height: raw.Height}
	return nil
}

// Reject codes
const (
	RejectObsolete uint8 = 0x11
)

type SyncStatusCount struct {
	Topic int `json:"topic"`
	Count int `json:"count"`
}

type Reject struct {
	Message MsgType `json:"message"`
	Code    uint8   `json:"code"`
	Reason  string  `json:"reason"`
}

// Message is the envelope for everything exchanged between peers. Exactly one
// payload field is set, matching Type.
type Message struct {
	Type    MsgType `json:"type"`
	Version uint32  `json:"version"`

	Vote       *Vote            `json:"vote,omitempty"`
	Inventory  []Inventory      `json:"inventory,omitempty"`
	SyncStatus *SyncStatusCount `json:"sync_status,omitempty"`
	Reject     *Reject          `json:"reject,omitempty"`
}

func NewSyncRequestMessage() *Message {
	return &Message{Type: MsgSyncRequest, Version: ProtocolVersion}
}

func NewVoteMessage(vote *Vote) *Message {
	return &Message{Type: MsgVote, Version: ProtocolVersion, Vote: vote}
}

func NewSyncStatusCountMessage(topic, count int) *Message {
	return &Message{
		Type:       MsgSyncStatusCount,
		Version:    ProtocolVersion,
		SyncStatus: &SyncStatusCount{Topic: topic, Count: count},
	}
}

func NewInventoryMessage(inv []Inventory) *Message {
	return &Message{Type: MsgInventory, Version: ProtocolVersion, Inventory: inv}
}

func NewGetDataMessage(inv []Inventory) *Message {
	return &Message{Type: MsgGetData, Version: ProtocolVersion, Inventory: inv}
}

func NewRejectMessage(msgType MsgType, code uint8, reason string) *Message {
	return &Message{
		Type:    MsgReject,
		Version: ProtocolVersion,
		Reject:  &Reject{Message: msgType, Code: code, Reason: reason},
	}
}

// ValidateForm checks that the payload matches the message type.
func (m *Message) ValidateForm(maxInventory int) error {
	switch m.Type {
	case MsgSyncRequest:
		return nil
	case MsgVote:
		if m.Vote == nil {
			return errors.New("vote message without a vote")
		}
		return nil
	case MsgSyncStatusCount:
		if m.SyncStatus == nil {
			return errors.New("sync status message without a count")
		}
		return nil
	case MsgInventory, MsgGetData:
		if len(m.Inventory) == 0 {
			return fmt.Errorf("%s message without inventory", m.Type)
		}
		if len(m.Inventory) > maxInventory {
			return fmt.Errorf("%s message has %d entries, max %d", m.Type, len(m.Inventory), maxInventory)
		}
		return nil
	case MsgReject:
		if m.Reject == nil {
			return errors.New("reject message without a reason")
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMessage, m.Type)
	}
}
