package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tapfed/tapfed-node/relayer/db"
	"github.com/tapfed/tapfed-node/relayer/store"
)

// RelayStore provides the cursor, replay-guard and failure operations for
// one chain pair's database. All state for a pair lives in one file, so
// "append mirrored record + advance cursor" can be a single transaction.
type RelayStore struct {
	database *db.DB
	logger   zerolog.Logger
}

// NewRelayStore creates a relay store over the pair's database.
func NewRelayStore(database *db.DB, logger zerolog.Logger) *RelayStore {
	return &RelayStore{
		database: database,
		logger:   logger.With().Str("component", "relay_store").Logger(),
	}
}

// GetCursor returns the cursor for (chainID, eventType), creating a zero
// cursor if none exists yet.
func (rs *RelayStore) GetCursor(chainID string, eventType EventType) (Position, error) {
	if rs.database == nil {
		return Position{}, fmt.Errorf("database is nil")
	}

	var cursor store.MirrorCursor
	result := rs.database.Client().
		Where("chain_id = ? AND event_type = ?", chainID, string(eventType)).
		First(&cursor)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			cursor = store.MirrorCursor{
				ChainID:   chainID,
				EventType: string(eventType),
			}
			if err := rs.database.Client().Create(&cursor).Error; err != nil {
				return Position{}, fmt.Errorf("failed to create mirror cursor: %w", err)
			}
			return Position{}, nil
		}
		return Position{}, fmt.Errorf("failed to get mirror cursor: %w", result.Error)
	}

	return Position{BlockHeight: cursor.LastBlockHeight, LogIndex: cursor.LastLogIndex}, nil
}

// AlreadyMirrored reports whether a mirrored record exists for the source
// event ID. Presence is definitional proof the event was forwarded.
func (rs *RelayStore) AlreadyMirrored(sourceEventID string) (bool, error) {
	var count int64
	err := rs.database.Client().
		Model(&store.MirroredRecord{}).
		Where("source_event_id = ?", sourceEventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query mirrored records: %w", err)
	}
	return count > 0, nil
}

// MirroredCipherCount returns how many CipherStored events of the round
// have been mirrored. Used by the aggregation coordinator's local check.
func (rs *RelayStore) MirroredCipherCount(roundID uint64) (uint64, error) {
	var count int64
	err := rs.database.Client().
		Model(&store.MirroredRecord{}).
		Where("event_type = ? AND round_id = ?", store.EventTypeCipherStored, roundID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count mirrored ciphers: %w", err)
	}
	return uint64(count), nil
}

// RecordMirrored appends the MirroredRecord for the event and advances the
// event type's cursor to the event's position, as one durable unit. The
// record insert is idempotent (first-or-create on source_event_id) and the
// cursor only ever moves forward, so calling this again after a crash or
// for an idempotent skip is safe.
func (rs *RelayStore) RecordMirrored(event *Event, destinationTxHash string) error {
	if rs.database == nil {
		return fmt.Errorf("database is nil")
	}

	sourceEventID := event.SourceEventID()

	return rs.database.Client().Transaction(func(tx *gorm.DB) error {
		record := store.MirroredRecord{
			SourceEventID:     sourceEventID,
			ChainID:           event.ChainID,
			EventType:         string(event.Type),
			BlockHeight:       event.BlockHeight,
			LogIndex:          event.LogIndex,
			RoundID:           event.RoundID,
			ParticipantID:     event.ParticipantID,
			DestinationTxHash: destinationTxHash,
			MirroredAt:        time.Now().UTC(),
		}
		if err := tx.Where("source_event_id = ?", sourceEventID).
			FirstOrCreate(&record).Error; err != nil {
			return fmt.Errorf("failed to append mirrored record: %w", err)
		}

		var cursor store.MirrorCursor
		err := tx.Where("chain_id = ? AND event_type = ?", event.ChainID, string(event.Type)).
			First(&cursor).Error
		if err == gorm.ErrRecordNotFound {
			cursor = store.MirrorCursor{
				ChainID:   event.ChainID,
				EventType: string(event.Type),
			}
			if err := tx.Create(&cursor).Error; err != nil {
				return fmt.Errorf("failed to create mirror cursor: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to load mirror cursor: %w", err)
		}

		pos := event.Position()
		if pos.After(Position{BlockHeight: cursor.LastBlockHeight, LogIndex: cursor.LastLogIndex}) {
			cursor.LastBlockHeight = pos.BlockHeight
			cursor.LastLogIndex = pos.LogIndex
			if err := tx.Save(&cursor).Error; err != nil {
				return fmt.Errorf("failed to advance mirror cursor: %w", err)
			}
		}

		// A previously recorded failure for this event is resolved once
		// the event is mirrored.
		if err := tx.Where("source_event_id = ?", sourceEventID).
			Delete(&store.FailedEvent{}).Error; err != nil {
			return fmt.Errorf("failed to clear failed event: %w", err)
		}

		return nil
	})
}

// RecordFailure stores a fatal event for operator inspection. The insert
// is idempotent; re-observing the same broken event updates nothing.
func (rs *RelayStore) RecordFailure(event *Event, reason string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(fmt.Sprintf("{\"marshal_error\":%q}", err.Error()))
	}

	failed := store.FailedEvent{
		SourceEventID: event.SourceEventID(),
		ChainID:       event.ChainID,
		EventType:     string(event.Type),
		BlockHeight:   event.BlockHeight,
		LogIndex:      event.LogIndex,
		Payload:       payload,
		Reason:        reason,
	}
	if err := rs.database.Client().
		Where("source_event_id = ?", failed.SourceEventID).
		FirstOrCreate(&failed).Error; err != nil {
		return fmt.Errorf("failed to record failed event: %w", err)
	}

	rs.logger.Error().
		Str("source_event_id", failed.SourceEventID).
		Str("event_type", failed.EventType).
		Uint64("block", failed.BlockHeight).
		Str("reason", reason).
		Msg("event flagged fatal, stream blocked until resolved")
	return nil
}

// FailedEvents returns all currently failed events.
func (rs *RelayStore) FailedEvents() ([]store.FailedEvent, error) {
	var failed []store.FailedEvent
	if err := rs.database.Client().
		Order("block_height ASC, log_index ASC").
		Find(&failed).Error; err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return failed, nil
}

// MirroredRecords returns the mirrored log for a round, oldest first.
func (rs *RelayStore) MirroredRecords(roundID uint64) ([]store.MirroredRecord, error) {
	var records []store.MirroredRecord
	if err := rs.database.Client().
		Where("round_id = ?", roundID).
		Order("block_height ASC, log_index ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query mirrored records: %w", err)
	}
	return records, nil
}

// UpsertRound creates or refreshes the round lifecycle record from a
// RoundRegistered event. Root and metadata are written once; status starts
// at posted.
func (rs *RelayStore) UpsertRound(roundID uint64, merkleRoot, metadataCid string) error {
	round := store.RoundRecord{
		RoundID:     roundID,
		MerkleRoot:  merkleRoot,
		MetadataCid: metadataCid,
		Status:      store.RoundStatusPosted,
	}
	if err := rs.database.Client().
		Where("round_id = ?", roundID).
		FirstOrCreate(&round).Error; err != nil {
		return fmt.Errorf("failed to upsert round record: %w", err)
	}
	return nil
}

// SetRoundStatus moves a round's lifecycle status.
func (rs *RelayStore) SetRoundStatus(roundID uint64, status string) error {
	result := rs.database.Client().
		Model(&store.RoundRecord{}).
		Where("round_id = ?", roundID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to set round status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("round %d not found", roundID)
	}
	return nil
}

// SyncRoundCipherCount aligns the round record's cipher count with the
// mirrored log. The log is the durable source of truth, so recounting
// from it self-heals a record that missed an update before a crash.
func (rs *RelayStore) SyncRoundCipherCount(roundID uint64) error {
	count, err := rs.MirroredCipherCount(roundID)
	if err != nil {
		return err
	}
	return rs.database.Client().
		Model(&store.RoundRecord{}).
		Where("round_id = ?", roundID).
		Update("cipher_count", count).Error
}

// Cursors returns every cursor row in the pair's database.
func (rs *RelayStore) Cursors() ([]store.MirrorCursor, error) {
	var cursors []store.MirrorCursor
	if err := rs.database.Client().
		Order("chain_id, event_type").
		Find(&cursors).Error; err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	return cursors, nil
}

// Rounds returns all round records, newest first.
func (rs *RelayStore) Rounds() ([]store.RoundRecord, error) {
	var rounds []store.RoundRecord
	if err := rs.database.Client().
		Order("round_id DESC").
		Find(&rounds).Error; err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	return rounds, nil
}

// GetRound returns one round record.
func (rs *RelayStore) GetRound(roundID uint64) (*store.RoundRecord, error) {
	var round store.RoundRecord
	if err := rs.database.Client().
		Where("round_id = ?", roundID).
		First(&round).Error; err != nil {
		return nil, fmt.Errorf("round %d not found: %w", roundID, err)
	}
	return &round, nil
}
