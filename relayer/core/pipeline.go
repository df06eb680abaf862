// Package core wires the relayer together: one mirror pipeline per chain
// pair, each strictly sequential in ledger order, plus the client that
// owns their lifecycle.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/chains/common"
	uerrors "github.com/tapfed/tapfed-node/relayer/errors"
	"github.com/tapfed/tapfed-node/relayer/metrics"
)

// EventSourcer yields decoded finalized events strictly after a position.
type EventSourcer interface {
	Poll(ctx context.Context, after common.Position) ([]common.Event, error)
}

// EventSubmitter mirrors one event onto the destination ledger.
type EventSubmitter interface {
	Submit(ctx context.Context, event *common.Event) (txHash string, alreadyPresent bool, err error)
}

// MirrorPipeline relays one chain pair. Event processing within the pair
// is strictly sequential: the next event is not acted on until the
// current one is mirrored, skipped, or flagged fatal, because cursor
// advancement must stay monotonic and crash-consistent.
type MirrorPipeline struct {
	pairName      string
	sourceChainID string
	source        EventSourcer
	submitter     EventSubmitter
	relayStore    *common.RelayStore
	pollInterval  time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewMirrorPipeline creates a pipeline for one chain pair.
func NewMirrorPipeline(
	pairName, sourceChainID string,
	source EventSourcer,
	submitter EventSubmitter,
	relayStore *common.RelayStore,
	pollInterval time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MirrorPipeline {
	return &MirrorPipeline{
		pairName:      pairName,
		sourceChainID: sourceChainID,
		source:        source,
		submitter:     submitter,
		relayStore:    relayStore,
		pollInterval:  pollInterval,
		metrics:       m,
		logger: logger.With().
			Str("component", "mirror_pipeline").
			Str("chain_pair", pairName).
			Logger(),
	}
}

// Run polls until the context is cancelled. Transient failures are logged
// and retried on the next tick; the durable store guarantees that a
// cancellation at any point resumes without gap or duplicate effect.
func (p *MirrorPipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.logger.Info().Dur("poll_interval", p.pollInterval).Msg("mirror pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("mirror pipeline stopped")
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil {
				if p.metrics != nil {
					p.metrics.PollErrors.WithLabelValues(p.pairName).Inc()
				}
				p.logger.Warn().Err(err).Msg("mirror cycle failed, will retry")
			}
		}
	}
}

// ProcessOnce runs a single poll-and-mirror cycle. Exported so tests and
// operator-triggered re-submission can drive the pipeline synchronously.
func (p *MirrorPipeline) ProcessOnce(ctx context.Context) error {
	cursors := map[common.EventType]common.Position{}
	for _, et := range []common.EventType{common.EventTypeRoundRegistered, common.EventTypeCipherStored} {
		pos, err := p.relayStore.GetCursor(p.sourceChainID, et)
		if err != nil {
			return err
		}
		cursors[et] = pos
	}

	// The two event-type streams share one poll; resume from the older
	// bookmark and let per-type filtering below drop what one stream has
	// already passed.
	events, err := p.source.Poll(ctx, common.Older(
		cursors[common.EventTypeRoundRegistered],
		cursors[common.EventTypeCipherStored],
	))
	if err != nil {
		return err
	}

	// A fatal event blocks only its own stream for the rest of the
	// cycle; the other event type keeps flowing.
	blocked := map[common.EventType]bool{}

	for i := range events {
		event := &events[i]

		if blocked[event.Type] {
			continue
		}
		if !event.Position().After(cursors[event.Type]) {
			continue
		}

		outcome, err := p.processEvent(ctx, event)
		switch {
		case err != nil && uerrors.IsRetryable(err):
			// Transient: stop the whole cycle so in-pair ordering holds,
			// and retry from the cursor next tick.
			return err
		case err != nil:
			// Fatal for this event: record it, block its stream, keep
			// the cursor where it is.
			if recErr := p.relayStore.RecordFailure(event, err.Error()); recErr != nil {
				return recErr
			}
			blocked[event.Type] = true
			if p.metrics != nil {
				p.metrics.EventsFailed.WithLabelValues(p.pairName, string(event.Type)).Inc()
			}
		default:
			cursors[event.Type] = event.Position()
			if p.metrics != nil {
				p.metrics.CursorHeight.WithLabelValues(p.pairName, string(event.Type)).
					Set(float64(event.BlockHeight))
				if outcome == outcomeMirrored {
					p.metrics.EventsMirrored.WithLabelValues(p.pairName, string(event.Type)).Inc()
				} else {
					p.metrics.EventsSkipped.WithLabelValues(p.pairName, string(event.Type)).Inc()
				}
			}
		}
	}

	return nil
}

type processOutcome int

const (
	outcomeMirrored processOutcome = iota
	outcomeSkipped
)

// processEvent resolves a single event to mirrored, skipped, or error.
// The mirrored record and cursor advance are committed as one durable
// unit only after the destination confirmed the write.
func (p *MirrorPipeline) processEvent(ctx context.Context, event *common.Event) (processOutcome, error) {
	if event.DecodeError != "" {
		return 0, uerrors.NewIntegrityError(p.sourceChainID, "undecodable event log: "+event.DecodeError, nil)
	}

	sourceEventID := event.SourceEventID()

	mirrored, err := p.relayStore.AlreadyMirrored(sourceEventID)
	if err != nil {
		return 0, uerrors.NewDatabaseError(p.sourceChainID, "replay guard lookup failed", err)
	}
	if mirrored {
		// Re-delivery after a crash or re-poll: advance the cursor past
		// the event without touching the destination.
		if err := p.relayStore.RecordMirrored(event, ""); err != nil {
			return 0, uerrors.NewDatabaseError(p.sourceChainID, "failed to advance cursor over mirrored event", err)
		}
		p.trackRoundLifecycle(event)
		p.logger.Debug().
			Str("source_event_id", sourceEventID).
			Msg("event already mirrored, skipping")
		return outcomeSkipped, nil
	}

	txHash, alreadyPresent, err := p.submitter.Submit(ctx, event)
	if err != nil {
		return 0, err
	}

	if err := p.relayStore.RecordMirrored(event, txHash); err != nil {
		// The destination write landed but the record did not; the
		// replay guard and the destination's own duplicate check make
		// the inevitable re-submission safe.
		return 0, uerrors.NewDatabaseError(p.sourceChainID, "failed to record mirrored event", err)
	}

	p.trackRoundLifecycle(event)

	if alreadyPresent {
		p.logger.Debug().
			Str("source_event_id", sourceEventID).
			Msg("destination already held record, recorded as skip")
		return outcomeSkipped, nil
	}

	p.logger.Info().
		Str("source_event_id", sourceEventID).
		Str("event_type", string(event.Type)).
		Uint64("round_id", event.RoundID).
		Str("destination_tx", txHash).
		Msg("event mirrored")
	return outcomeMirrored, nil
}

// trackRoundLifecycle keeps the round records in step with the stream.
// The cipher count is recounted from the mirrored log rather than
// incremented, so a crash between the mirror record and this update
// leaves nothing to drift: the next cipher of the round repairs it.
func (p *MirrorPipeline) trackRoundLifecycle(event *common.Event) {
	var err error
	switch event.Type {
	case common.EventTypeRoundRegistered:
		err = p.relayStore.UpsertRound(event.RoundID, event.MerkleRoot.Hex(), event.MetadataCid)
	case common.EventTypeCipherStored:
		if err = p.relayStore.UpsertRound(event.RoundID, "", ""); err == nil {
			err = p.relayStore.SyncRoundCipherCount(event.RoundID)
		}
	}
	if err != nil {
		p.logger.Warn().Err(err).Uint64("round_id", event.RoundID).Msg("failed to update round record")
	}
}
