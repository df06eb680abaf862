package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/chains/common"
	uerrors "github.com/tapfed/tapfed-node/relayer/errors"
)

// Backend is the slice of the destination client the submitter needs.
// *Client satisfies it; tests provide fakes.
type Backend interface {
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EVMChainID() *big.Int
}

// revert reasons the destination contracts use for duplicate keys. A
// duplicate write reverting is the on-chain second line of defense behind
// the replay guard; the relayer reads it as idempotent completion.
var idempotentRevertMarkers = []string{
	"already registered",
	"already posted",
	"already stored",
}

// Submitter constructs, signs, submits and confirms mirror transactions
// on the destination ledger. All writes from one relayer account are
// serialized through a nonce mutex so pending RoundRegistered and
// CipherStored mirrors cannot race each other's nonces.
type Submitter struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	sender         ethcommon.Address
	registryAddr   ethcommon.Address
	cipherAddr     ethcommon.Address
	gasLimit       uint64
	chainID        string
	confirmTimeout time.Duration
	retryConfig    *uerrors.RetryConfig
	logger         zerolog.Logger

	mu        sync.Mutex
	nextNonce uint64
	nonceInit bool
}

// NewSubmitter creates a destination submitter signing with key.
func NewSubmitter(
	backend Backend,
	key *ecdsa.PrivateKey,
	registryAddr, cipherAddr ethcommon.Address,
	gasLimit uint64,
	chainID string,
	confirmTimeout time.Duration,
	retryConfig *uerrors.RetryConfig,
	logger zerolog.Logger,
) *Submitter {
	if retryConfig == nil {
		retryConfig = uerrors.DefaultRetryConfig()
	}
	return &Submitter{
		backend:        backend,
		key:            key,
		sender:         ethcrypto.PubkeyToAddress(key.PublicKey),
		registryAddr:   registryAddr,
		cipherAddr:     cipherAddr,
		gasLimit:       gasLimit,
		chainID:        chainID,
		confirmTimeout: confirmTimeout,
		retryConfig:    retryConfig,
		logger:         logger.With().Str("component", "evm_submitter").Str("chain", chainID).Logger(),
	}
}

// Sender returns the relayer's destination account.
func (s *Submitter) Sender() ethcommon.Address {
	return s.sender
}

// Submit mirrors one event onto the destination. It returns the
// destination tx hash, or alreadyPresent=true when the destination
// already holds the record (pre-check hit or duplicate revert), which the
// caller records as an idempotent skip. Transient failures are retried
// with bounded exponential backoff before being returned; a returned
// retryable error means "try the whole event again later", while a
// non-retryable error is fatal for this event.
func (s *Submitter) Submit(ctx context.Context, event *common.Event) (txHash string, alreadyPresent bool, err error) {
	calldata, to, err := s.encodeMirrorCall(event)
	if err != nil {
		return "", false, err
	}

	err = uerrors.RetryWithConfig(ctx, func() error {
		// Check destination state first: after a crash between submission
		// and confirmation, the record may already be there.
		present, perr := s.destinationHas(ctx, event)
		if perr != nil {
			return perr
		}
		if present {
			alreadyPresent = true
			return nil
		}

		hash, serr := s.sendAndConfirm(ctx, to, calldata)
		if serr != nil {
			var benign bool
			benign, serr = s.classifyFailure(ctx, to, calldata, serr)
			if benign {
				alreadyPresent = true
				return nil
			}
			return serr
		}
		txHash = hash
		return nil
	}, s.retryConfig)

	if err != nil {
		return "", false, err
	}
	return txHash, alreadyPresent, nil
}

// encodeMirrorCall packs the destination entry point for the event.
func (s *Submitter) encodeMirrorCall(event *common.Event) ([]byte, ethcommon.Address, error) {
	roundID := new(big.Int).SetUint64(event.RoundID)

	switch event.Type {
	case common.EventTypeRoundRegistered:
		data, err := registryABI.Pack("registerRound", roundID, [32]byte(event.MerkleRoot), event.MetadataCid)
		if err != nil {
			return nil, ethcommon.Address{}, uerrors.NewIntegrityError(s.chainID, "failed to pack registerRound", err)
		}
		return data, s.registryAddr, nil
	case common.EventTypeCipherStored:
		data, err := cipherStoreABI.Pack("storeCipher", roundID, event.ParticipantID, event.Cid, [32]byte(event.Commitment))
		if err != nil {
			return nil, ethcommon.Address{}, uerrors.NewIntegrityError(s.chainID, "failed to pack storeCipher", err)
		}
		return data, s.cipherAddr, nil
	default:
		return nil, ethcommon.Address{}, uerrors.NewIntegrityError(s.chainID, "unknown event type "+string(event.Type), nil)
	}
}

// destinationHas queries the destination's own view for the event's key.
func (s *Submitter) destinationHas(ctx context.Context, event *common.Event) (bool, error) {
	roundID := new(big.Int).SetUint64(event.RoundID)

	var (
		data []byte
		err  error
		to   ethcommon.Address
		name string
		a    = &registryABI
	)
	switch event.Type {
	case common.EventTypeRoundRegistered:
		name, to = "roundExists", s.registryAddr
		data, err = registryABI.Pack(name, roundID)
	case common.EventTypeCipherStored:
		name, to, a = "hasCipher", s.cipherAddr, &cipherStoreABI
		data, err = cipherStoreABI.Pack(name, roundID, event.ParticipantID)
	default:
		return false, uerrors.NewIntegrityError(s.chainID, "unknown event type "+string(event.Type), nil)
	}
	if err != nil {
		return false, uerrors.NewIntegrityError(s.chainID, "failed to pack "+name, err)
	}

	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{From: s.sender, To: &to, Data: data}, nil)
	if err != nil {
		return false, uerrors.NewRPCError(s.chainID, "destination pre-check failed", err)
	}

	vals, err := a.Unpack(name, out)
	if err != nil || len(vals) != 1 {
		return false, uerrors.NewRPCError(s.chainID, "failed to decode "+name+" result", err)
	}
	present, _ := vals[0].(bool)
	return present, nil
}

// CipherCount reads the destination cipher store's own count for a
// round. The aggregator cross-checks it against the mirror log before a
// round may proceed to partial collection.
func (s *Submitter) CipherCount(ctx context.Context, roundID uint64) (uint64, error) {
	data, err := cipherStoreABI.Pack("cipherCount", new(big.Int).SetUint64(roundID))
	if err != nil {
		return 0, uerrors.NewIntegrityError(s.chainID, "failed to pack cipherCount", err)
	}

	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{From: s.sender, To: &s.cipherAddr, Data: data}, nil)
	if err != nil {
		return 0, uerrors.NewRPCError(s.chainID, "cipherCount call failed", err)
	}

	vals, err := cipherStoreABI.Unpack("cipherCount", out)
	if err != nil || len(vals) != 1 {
		return 0, uerrors.NewRPCError(s.chainID, "failed to decode cipherCount result", err)
	}
	count, ok := vals[0].(*big.Int)
	if !ok {
		return 0, uerrors.NewIntegrityError(s.chainID, "unexpected cipherCount result type", nil)
	}
	return count.Uint64(), nil
}

// sendAndConfirm signs and broadcasts the call, then waits for a receipt.
func (s *Submitter) sendAndConfirm(ctx context.Context, to ethcommon.Address, calldata []byte) (string, error) {
	s.mu.Lock()
	if !s.nonceInit {
		nonce, err := s.backend.PendingNonceAt(ctx, s.sender)
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
		s.nextNonce = nonce
		s.nonceInit = true
	}
	nonce := s.nextNonce

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), s.gasLimit, gasPrice, calldata)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.backend.EVMChainID()), s.key)
	if err != nil {
		s.mu.Unlock()
		return "", uerrors.NewTransactionError(s.chainID, "failed to sign transaction", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		// Nonce desync is recovered by re-reading the pending nonce on
		// the next attempt.
		if strings.Contains(strings.ToLower(err.Error()), "nonce") {
			s.nonceInit = false
		}
		s.mu.Unlock()
		return "", uerrors.NewRPCError(s.chainID, "failed to send transaction", err)
	}
	s.nextNonce = nonce + 1
	s.mu.Unlock()

	hash := signedTx.Hash()
	s.logger.Debug().
		Str("tx_hash", hash.Hex()).
		Uint64("nonce", nonce).
		Msg("submitted mirror transaction")

	receipt, err := s.waitReceipt(ctx, hash)
	if err != nil {
		return "", err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return hash.Hex(), errReverted
	}

	s.logger.Info().
		Str("tx_hash", hash.Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Msg("mirror transaction confirmed")
	return hash.Hex(), nil
}

// errReverted marks a mined-but-reverted transaction before the revert
// reason has been recovered.
var errReverted = uerrors.NewTransactionError("", "transaction reverted", nil)

// waitReceipt polls for the receipt until the confirmation timeout.
func (s *Submitter) waitReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			// The tx may still land; the next attempt pre-checks the
			// destination before re-sending.
			return nil, uerrors.NewTimeoutError(s.chainID, "timed out waiting for receipt "+hash.Hex())
		case <-ticker.C:
		}
	}
}

// classifyFailure decides whether a revert is the destination's duplicate
// guard (idempotent success) or a genuine rejection (fatal). The revert
// reason is recovered by replaying the calldata as a read-only call.
func (s *Submitter) classifyFailure(ctx context.Context, to ethcommon.Address, calldata []byte, serr error) (benign bool, err error) {
	if !uerrors.Is(serr, errReverted) {
		return false, serr
	}

	_, callErr := s.backend.CallContract(ctx, ethereum.CallMsg{From: s.sender, To: &to, Data: calldata}, nil)
	reason := ""
	if callErr != nil {
		reason = strings.ToLower(callErr.Error())
	}

	for _, marker := range idempotentRevertMarkers {
		if strings.Contains(reason, marker) {
			s.logger.Debug().Str("reason", reason).Msg("duplicate write rejected on-chain, treating as mirrored")
			return true, nil
		}
	}

	return false, uerrors.NewTransactionError(s.chainID, "destination rejected mirror call: "+reason, callErr)
}
