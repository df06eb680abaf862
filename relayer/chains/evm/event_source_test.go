package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapfed/tapfed-node/relayer/chains/common"
)

type fakeChain struct {
	head    uint64
	headErr error
	logs    []types.Log
	logsErr error
	queries []ethereum.FilterQuery
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func roundLog(t *testing.T, block uint64, index uint, roundID uint64, metadataCid string) types.Log {
	t.Helper()
	data, err := registryABI.Events["RoundRegistered"].Inputs.NonIndexed().Pack(
		[32]byte{0xaa}, metadataCid,
	)
	require.NoError(t, err)
	return types.Log{
		Address:     testRegistryAddr,
		Topics:      []ethcommon.Hash{roundRegisteredTopic, ethcommon.BigToHash(new(big.Int).SetUint64(roundID))},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      ethcommon.Hash{0x01},
	}
}

func cipherLog(t *testing.T, block uint64, index uint, roundID, participantID uint64) types.Log {
	t.Helper()
	data, err := cipherStoreABI.Events["CipherStored"].Inputs.NonIndexed().Pack(
		participantID, "QmCipher", [32]byte{0xbb},
	)
	require.NoError(t, err)
	return types.Log{
		Address:     testCipherAddr,
		Topics:      []ethcommon.Hash{cipherStoredTopic, ethcommon.BigToHash(new(big.Int).SetUint64(roundID))},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      ethcommon.Hash{0x02},
	}
}

func newTestSource(chain *fakeChain, confirmationDepth, batchSize uint64) *EventSource {
	parser := NewEventParser("chainA", testRegistryAddr, testCipherAddr, zerolog.Nop())
	return NewEventSource(chain, parser, testRegistryAddr, testCipherAddr, confirmationDepth, batchSize, "chainA", zerolog.Nop())
}

func TestEventParser(t *testing.T) {
	parser := NewEventParser("chainA", testRegistryAddr, testCipherAddr, zerolog.Nop())

	t.Run("decodes RoundRegistered", func(t *testing.T) {
		log := roundLog(t, 100, 2, 7, "QmMeta")
		ev, err := parser.Parse(&log)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, common.EventTypeRoundRegistered, ev.Type)
		assert.Equal(t, uint64(7), ev.RoundID)
		assert.Equal(t, ethcommon.Hash{0xaa}, ev.MerkleRoot)
		assert.Equal(t, "QmMeta", ev.MetadataCid)
		assert.Equal(t, uint64(100), ev.BlockHeight)
		assert.Equal(t, uint(2), ev.LogIndex)
	})

	t.Run("decodes CipherStored", func(t *testing.T) {
		log := cipherLog(t, 101, 0, 7, 3)
		ev, err := parser.Parse(&log)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, common.EventTypeCipherStored, ev.Type)
		assert.Equal(t, uint64(7), ev.RoundID)
		assert.Equal(t, uint64(3), ev.ParticipantID)
		assert.Equal(t, "QmCipher", ev.Cid)
		assert.Equal(t, ethcommon.Hash{0xbb}, ev.Commitment)
	})

	t.Run("ignores foreign contracts", func(t *testing.T) {
		log := roundLog(t, 100, 0, 1, "QmMeta")
		log.Address = ethcommon.HexToAddress("0xdead")
		ev, err := parser.Parse(&log)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("ignores unknown topics", func(t *testing.T) {
		log := roundLog(t, 100, 0, 1, "QmMeta")
		log.Topics[0] = ethcommon.Hash{0xff}
		ev, err := parser.Parse(&log)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("malformed data is an integrity error", func(t *testing.T) {
		log := roundLog(t, 100, 0, 1, "QmMeta")
		log.Data = log.Data[:8]
		_, err := parser.Parse(&log)
		assert.Error(t, err)
	})
}

func TestPoll(t *testing.T) {
	t.Run("returns finalized events in ledger order", func(t *testing.T) {
		chain := &fakeChain{
			head: 105,
			logs: []types.Log{
				cipherLog(t, 101, 1, 1, 2),
				roundLog(t, 100, 0, 1, "QmMeta"),
				cipherLog(t, 101, 0, 1, 1),
			},
		}
		source := newTestSource(chain, 5, 0)

		events, err := source.Poll(context.Background(), common.Position{})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, common.EventTypeRoundRegistered, events[0].Type)
		assert.Equal(t, uint64(1), events[1].ParticipantID)
		assert.Equal(t, uint64(2), events[2].ParticipantID)
	})

	t.Run("unfinalized events are held back", func(t *testing.T) {
		chain := &fakeChain{
			head: 102,
			logs: []types.Log{
				roundLog(t, 95, 0, 1, "QmMeta"),
				cipherLog(t, 101, 0, 1, 1), // above head-5
			},
		}
		source := newTestSource(chain, 5, 0)

		events, err := source.Poll(context.Background(), common.Position{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, common.EventTypeRoundRegistered, events[0].Type)
	})

	t.Run("resumes strictly after the cursor", func(t *testing.T) {
		chain := &fakeChain{
			head: 110,
			logs: []types.Log{
				cipherLog(t, 100, 0, 1, 1),
				cipherLog(t, 100, 1, 1, 2),
				cipherLog(t, 101, 0, 1, 3),
			},
		}
		source := newTestSource(chain, 0, 0)

		events, err := source.Poll(context.Background(), common.Position{BlockHeight: 100, LogIndex: 0})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(2), events[0].ParticipantID)
		assert.Equal(t, uint64(3), events[1].ParticipantID)
	})

	t.Run("reorged logs are dropped", func(t *testing.T) {
		removed := cipherLog(t, 100, 0, 1, 1)
		removed.Removed = true
		chain := &fakeChain{head: 110, logs: []types.Log{removed}}
		source := newTestSource(chain, 0, 0)

		events, err := source.Poll(context.Background(), common.Position{})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("undecodable log surfaces with its position", func(t *testing.T) {
		broken := cipherLog(t, 100, 3, 1, 1)
		broken.Data = broken.Data[:4]
		chain := &fakeChain{head: 110, logs: []types.Log{broken}}
		source := newTestSource(chain, 0, 0)

		events, err := source.Poll(context.Background(), common.Position{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].DecodeError)
		assert.Equal(t, common.EventTypeCipherStored, events[0].Type)
		assert.Equal(t, common.Position{BlockHeight: 100, LogIndex: 3}, events[0].Position())
	})

	t.Run("scan is batched", func(t *testing.T) {
		chain := &fakeChain{head: 25_000}
		source := newTestSource(chain, 0, 10_000)

		_, err := source.Poll(context.Background(), common.Position{})
		require.NoError(t, err)
		require.Len(t, chain.queries, 3)
		assert.Equal(t, uint64(0), chain.queries[0].FromBlock.Uint64())
		assert.Equal(t, uint64(9_999), chain.queries[0].ToBlock.Uint64())
		assert.Equal(t, uint64(25_000), chain.queries[2].ToBlock.Uint64())
	})

	t.Run("unreachable ledger yields ErrSourceUnavailable", func(t *testing.T) {
		chain := &fakeChain{headErr: errors.New("connection refused")}
		source := newTestSource(chain, 0, 0)

		_, err := source.Poll(context.Background(), common.Position{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})

	t.Run("quiet range is not an error", func(t *testing.T) {
		chain := &fakeChain{head: 50}
		source := newTestSource(chain, 0, 0)

		events, err := source.Poll(context.Background(), common.Position{})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
