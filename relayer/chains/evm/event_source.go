package evm

import (
	"context"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/chains/common"
	uerrors "github.com/tapfed/tapfed-node/relayer/errors"
)

// ErrSourceUnavailable marks a transient source ledger outage. Callers
// retry with backoff; it never means events were lost.
var ErrSourceUnavailable = errors.New("source ledger unavailable")

// headReader is the slice of Client the event source needs.
type headReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EventSource produces the finality-filtered, totally ordered event
// stream from one source ledger. Each Poll resumes strictly after the
// given position, so the caller's cursor fully determines what is seen.
type EventSource struct {
	client            headReader
	parser            *EventParser
	addresses         []ethcommon.Address
	topics            []ethcommon.Hash
	confirmationDepth uint64
	batchSize         uint64
	chainID           string
	logger            zerolog.Logger
}

// NewEventSource creates an event source for one source ledger.
func NewEventSource(
	client headReader,
	parser *EventParser,
	registryAddr, cipherAddr ethcommon.Address,
	confirmationDepth, batchSize uint64,
	chainID string,
	logger zerolog.Logger,
) *EventSource {
	if batchSize == 0 {
		batchSize = 10000
	}
	return &EventSource{
		client:            client,
		parser:            parser,
		addresses:         []ethcommon.Address{registryAddr, cipherAddr},
		topics:            EventTopics(),
		confirmationDepth: confirmationDepth,
		batchSize:         batchSize,
		chainID:           chainID,
		logger:            logger.With().Str("component", "evm_event_source").Str("chain", chainID).Logger(),
	}
}

// Poll returns all decoded events strictly after `after`, up to the
// finality horizon (head - confirmationDepth), in ledger order. An empty
// result is normal; an unreachable ledger yields ErrSourceUnavailable.
// Recognized logs that fail to decode are returned as events with a nil
// payload error by the parser and surface as integrity failures upstream.
func (s *EventSource) Poll(ctx context.Context, after common.Position) ([]common.Event, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, uerrors.NewRPCError(s.chainID, "poll failed", wrapUnavailable(err))
	}

	if head < s.confirmationDepth {
		return nil, nil
	}
	safeHead := head - s.confirmationDepth
	if safeHead < after.BlockHeight {
		return nil, nil
	}

	var events []common.Event

	// Re-scan the cursor block itself: a later log index in the same
	// block may not have been processed yet.
	from := after.BlockHeight
	for from <= safeHead {
		to := from + s.batchSize - 1
		if to > safeHead {
			to = safeHead
		}

		logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: s.addresses,
			Topics:    [][]ethcommon.Hash{s.topics},
		})
		if err != nil {
			return nil, uerrors.NewRPCError(s.chainID, "poll failed", wrapUnavailable(err))
		}

		for i := range logs {
			if logs[i].Removed {
				continue
			}
			ev, perr := s.parser.Parse(&logs[i])
			if perr != nil {
				// Surface the broken log as an event carrying only its
				// position, so the pipeline can flag it fatal without
				// losing its place in the stream.
				events = append(events, common.Event{
					ChainID:     s.chainID,
					BlockHeight: logs[i].BlockNumber,
					LogIndex:    logs[i].Index,
					TxHash:      logs[i].TxHash.Hex(),
					Type:        topicEventType(logs[i].Topics[0]),
					DecodeError: perr.Error(),
				})
				s.logger.Error().Err(perr).
					Str("tx_hash", logs[i].TxHash.Hex()).
					Uint64("block", logs[i].BlockNumber).
					Msg("undecodable event log")
				continue
			}
			if ev == nil {
				continue
			}
			if !ev.Position().After(after) {
				continue
			}
			events = append(events, *ev)
		}

		from = to + 1
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[j].Position().After(events[i].Position())
	})

	if len(events) > 0 {
		s.logger.Debug().
			Int("count", len(events)).
			Uint64("safe_head", safeHead).
			Msg("decoded new finalized events")
	}
	return events, nil
}

func topicEventType(topic ethcommon.Hash) common.EventType {
	if topic == cipherStoredTopic {
		return common.EventTypeCipherStored
	}
	return common.EventTypeRoundRegistered
}

func wrapUnavailable(err error) error {
	return errors.Join(ErrSourceUnavailable, err)
}
