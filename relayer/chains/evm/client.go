// Package evm implements the EVM-facing half of the relayer: the
// finality-gated event source on the source ledger and the idempotent
// transaction submitter on the destination ledger.
package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	uerrors "github.com/tapfed/tapfed-node/relayer/errors"
)

// Client wraps an ethclient connection to one ledger endpoint.
type Client struct {
	chainID    string // configured identifier, used in logs and records
	evmChainID *big.Int
	eth        *ethclient.Client
	logger     zerolog.Logger
}

// Dial connects to the endpoint and verifies it answers. A dead endpoint
// at startup is an unrecoverable configuration error, so the caller can
// fail fast before any mirroring begins.
func Dial(ctx context.Context, chainID, rpcURL string, logger zerolog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, uerrors.NewNetworkError(chainID, "failed to dial rpc endpoint "+rpcURL, err)
	}

	evmChainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, uerrors.NewNetworkError(chainID, "endpoint unreachable at startup: "+rpcURL, err)
	}

	return &Client{
		chainID:    chainID,
		evmChainID: evmChainID,
		eth:        eth,
		logger:     logger.With().Str("component", "evm_client").Str("chain", chainID).Logger(),
	}, nil
}

// ChainID returns the configured chain identifier.
func (c *Client) ChainID() string {
	return c.chainID
}

// EVMChainID returns the ledger's numeric chain ID for tx signing.
func (c *Client) EVMChainID() *big.Int {
	return c.evmChainID
}

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, uerrors.NewRPCError(c.chainID, "failed to get latest block", err)
	}
	return head, nil
}

// FilterLogs runs a log filter query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, uerrors.NewRPCError(c.chainID, "failed to filter logs", err)
	}
	return logs, nil
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

// PendingNonceAt returns the next nonce for the account.
func (c *Client) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, uerrors.NewRPCError(c.chainID, "failed to get pending nonce", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, uerrors.NewRPCError(c.chainID, "failed to get gas price", err)
	}
	return price, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// TransactionReceipt fetches a transaction receipt; the underlying
// ethereum.NotFound error is passed through for pending transactions.
func (c *Client) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// Close tears down the connection.
func (c *Client) Close() {
	c.eth.Close()
}
