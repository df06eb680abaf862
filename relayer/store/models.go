// Package store contains the GORM-backed SQLite models that make the
// relayer crash-safe. Each chain pair owns its own database file:
//
//	chains/
//	└── {pair_name}/
//	    └── relay_data.db
//	        ├── mirror_cursors
//	        ├── mirrored_records
//	        ├── round_records
//	        └── failed_events
package store

import (
	"time"

	"gorm.io/gorm"
)

// Event type identifiers as persisted with cursors and records.
const (
	EventTypeRoundRegistered = "ROUND_REGISTERED"
	EventTypeCipherStored    = "CIPHER_STORED"
)

// Round status values for RoundRecord.Status.
const (
	RoundStatusPosted             = "posted"
	RoundStatusMirrored           = "mirrored"
	RoundStatusCollecting         = "collecting"
	RoundStatusAggregated         = "aggregated"
	RoundStatusInsufficientShares = "insufficient_shares"
)

// MirrorCursor is the durable bookmark of the last fully processed source
// position, one row per (chain, event type). It is advanced only inside
// the same transaction that appends the matching MirroredRecord; a crash
// at any point therefore resumes without gap or duplicate effect.
type MirrorCursor struct {
	gorm.Model
	ChainID         string `gorm:"uniqueIndex:idx_cursor_chain_event;not null"`
	EventType       string `gorm:"uniqueIndex:idx_cursor_chain_event;not null"`
	LastBlockHeight uint64
	LastLogIndex    uint
}

// MirroredRecord is the append-only proof that a source event has been
// forwarded. Presence of a row for a source event ID is definitional:
// the replay guard never lets a second destination write happen for it.
type MirroredRecord struct {
	gorm.Model
	SourceEventID     string `gorm:"uniqueIndex;not null"` // keccak(chainId|height|logIndex)
	ChainID           string `gorm:"index"`
	EventType         string
	BlockHeight       uint64
	LogIndex          uint
	RoundID           uint64 `gorm:"index"`
	ParticipantID     uint64
	DestinationTxHash string // empty when the destination already held the record
	MirroredAt        time.Time
}

// RoundRecord tracks a round's lifecycle through mirroring and
// aggregation. MerkleRoot and MetadataCid are immutable once posted; only
// Status moves.
type RoundRecord struct {
	gorm.Model
	RoundID     uint64 `gorm:"uniqueIndex;not null"`
	MerkleRoot  string // 0x-prefixed hex digest
	MetadataCid string
	CipherCount uint64 // ciphers observed on the source for this round
	Status      string `gorm:"index;not null"`
}

// FailedEvent surfaces data-integrity failures to the operator. A row
// here means the event's stream is blocked at this position: the cursor
// must not advance past an event that was neither mirrored nor skipped.
type FailedEvent struct {
	gorm.Model
	SourceEventID string `gorm:"uniqueIndex;not null"`
	ChainID       string
	EventType     string
	BlockHeight   uint64
	LogIndex      uint
	Payload       []byte // JSON-encoded decoded event, for manual replay
	Reason        string `gorm:"type:text"`
}
