package evm

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/chains/common"
	uerrors "github.com/tapfed/tapfed-node/relayer/errors"
)

// EventParser decodes registry and cipher-store logs into relay events.
type EventParser struct {
	chainID      string
	registryAddr ethcommon.Address
	cipherAddr   ethcommon.Address
	logger       zerolog.Logger
}

// NewEventParser creates a parser for one source ledger's contracts.
func NewEventParser(chainID string, registryAddr, cipherAddr ethcommon.Address, logger zerolog.Logger) *EventParser {
	return &EventParser{
		chainID:      chainID,
		registryAddr: registryAddr,
		cipherAddr:   cipherAddr,
		logger:       logger.With().Str("component", "evm_event_parser").Logger(),
	}
}

// Parse decodes a log into an Event. Logs from other contracts or with
// unknown topics return (nil, nil); a recognized log that fails to decode
// returns a data-integrity error, fatal for that event.
func (ep *EventParser) Parse(log *types.Log) (*common.Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	switch log.Topics[0] {
	case roundRegisteredTopic:
		if log.Address != ep.registryAddr {
			return nil, nil
		}
		return ep.parseRoundRegistered(log)
	case cipherStoredTopic:
		if log.Address != ep.cipherAddr {
			return nil, nil
		}
		return ep.parseCipherStored(log)
	default:
		return nil, nil
	}
}

func (ep *EventParser) parseRoundRegistered(log *types.Log) (*common.Event, error) {
	if len(log.Topics) < 2 {
		return nil, uerrors.NewIntegrityError(ep.chainID,
			fmt.Sprintf("RoundRegistered log %s missing roundId topic", log.TxHash.Hex()), nil)
	}

	vals, err := registryABI.Events["RoundRegistered"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, uerrors.NewIntegrityError(ep.chainID, "failed to decode RoundRegistered data", err)
	}

	merkleRoot, ok := vals[0].([32]byte)
	if !ok {
		return nil, uerrors.NewIntegrityError(ep.chainID, "RoundRegistered merkleRoot has wrong type", nil)
	}
	metadataCid, ok := vals[1].(string)
	if !ok {
		return nil, uerrors.NewIntegrityError(ep.chainID, "RoundRegistered metadataCid has wrong type", nil)
	}

	return &common.Event{
		ChainID:     ep.chainID,
		BlockHeight: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash.Hex(),
		Type:        common.EventTypeRoundRegistered,
		RoundID:     new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(),
		MerkleRoot:  ethcommon.Hash(merkleRoot),
		MetadataCid: metadataCid,
	}, nil
}

func (ep *EventParser) parseCipherStored(log *types.Log) (*common.Event, error) {
	if len(log.Topics) < 2 {
		return nil, uerrors.NewIntegrityError(ep.chainID,
			fmt.Sprintf("CipherStored log %s missing roundId topic", log.TxHash.Hex()), nil)
	}

	vals, err := cipherStoreABI.Events["CipherStored"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, uerrors.NewIntegrityError(ep.chainID, "failed to decode CipherStored data", err)
	}

	participantID, ok := vals[0].(uint64)
	if !ok {
		return nil, uerrors.NewIntegrityError(ep.chainID, "CipherStored participantId has wrong type", nil)
	}
	cid, ok := vals[1].(string)
	if !ok {
		return nil, uerrors.NewIntegrityError(ep.chainID, "CipherStored cid has wrong type", nil)
	}
	commitment, ok := vals[2].([32]byte)
	if !ok {
		return nil, uerrors.NewIntegrityError(ep.chainID, "CipherStored commitment has wrong type", nil)
	}

	return &common.Event{
		ChainID:       ep.chainID,
		BlockHeight:   log.BlockNumber,
		LogIndex:      log.Index,
		TxHash:        log.TxHash.Hex(),
		Type:          common.EventTypeCipherStored,
		RoundID:       new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(),
		ParticipantID: participantID,
		Cid:           cid,
		Commitment:    ethcommon.Hash(commitment),
	}, nil
}
