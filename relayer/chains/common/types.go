// Package common holds the chain-agnostic relay types and the durable
// cursor/replay-guard operations shared by all chain pairs.
package common

import (
	"encoding/binary"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tapfed/tapfed-node/relayer/store"
)

// EventType identifies the two mirrored event classes.
type EventType string

const (
	EventTypeRoundRegistered EventType = store.EventTypeRoundRegistered
	EventTypeCipherStored    EventType = store.EventTypeCipherStored
)

// Position is a total order over a chain's log stream.
type Position struct {
	BlockHeight uint64
	LogIndex    uint
}

// After reports whether p is strictly after q in ledger order.
func (p Position) After(q Position) bool {
	if p.BlockHeight != q.BlockHeight {
		return p.BlockHeight > q.BlockHeight
	}
	return p.LogIndex > q.LogIndex
}

// Older returns the earlier of the two positions.
func Older(a, b Position) Position {
	if b.After(a) {
		return a
	}
	return b
}

// Event is a decoded, finality-filtered source ledger event.
type Event struct {
	ChainID     string    `json:"chain_id"`
	BlockHeight uint64    `json:"block_height"`
	LogIndex    uint      `json:"log_index"`
	TxHash      string    `json:"tx_hash"`
	Type        EventType `json:"type"`
	RoundID     uint64    `json:"round_id"`

	// RoundRegistered payload
	MerkleRoot  ethcommon.Hash `json:"merkle_root,omitempty"`
	MetadataCid string         `json:"metadata_cid,omitempty"`

	// CipherStored payload
	ParticipantID uint64         `json:"participant_id,omitempty"`
	Cid           string         `json:"cid,omitempty"`
	Commitment    ethcommon.Hash `json:"commitment,omitempty"`

	// DecodeError is set when a recognized log could not be decoded. Such
	// an event still occupies its stream position and is flagged fatal by
	// the pipeline rather than silently dropped.
	DecodeError string `json:"decode_error,omitempty"`
}

// Position returns the event's ledger position.
func (e *Event) Position() Position {
	return Position{BlockHeight: e.BlockHeight, LogIndex: e.LogIndex}
}

// SourceEventID derives the deterministic identifier used by the replay
// guard: keccak256 over (chainId, blockHeight, logIndex). The same event
// observed twice, across restarts or re-polls, always maps to the same ID.
func SourceEventID(chainID string, blockHeight uint64, logIndex uint) string {
	buf := make([]byte, 0, len(chainID)+16)
	buf = append(buf, []byte(chainID)...)
	buf = binary.BigEndian.AppendUint64(buf, blockHeight)
	buf = binary.BigEndian.AppendUint64(buf, uint64(logIndex))
	return fmt.Sprintf("0x%x", ethcrypto.Keccak256(buf))
}

// SourceEventID derives the event's replay-guard identifier.
func (e *Event) SourceEventID() string {
	return SourceEventID(e.ChainID, e.BlockHeight, e.LogIndex)
}
