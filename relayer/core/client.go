package core

import (
	"context"
	"crypto/ecdsa"
	"path/filepath"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/api"
	"github.com/tapfed/tapfed-node/relayer/chains/common"
	"github.com/tapfed/tapfed-node/relayer/chains/evm"
	"github.com/tapfed/tapfed-node/relayer/config"
	"github.com/tapfed/tapfed-node/relayer/db"
	uerrors "github.com/tapfed/tapfed-node/relayer/errors"
	"github.com/tapfed/tapfed-node/relayer/metrics"
)

// pairRuntime bundles everything one chain pair owns: its database, both
// ledger clients, and the pipeline moving events between them.
type pairRuntime struct {
	name       string
	database   *db.DB
	source     *evm.Client
	dest       *evm.Client
	relayStore *common.RelayStore
	pipeline   *MirrorPipeline
}

// RelayerClient owns the lifecycle of all configured chain pairs plus
// the query server. Construction fails fast: every RPC endpoint is
// dialed and verified and every database opened before any pipeline
// starts.
type RelayerClient struct {
	cfg       *config.Config
	pairs     []*pairRuntime
	apiServer *api.Server
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayerClient builds the full relayer from configuration. basePath
// is the node home; each pair's state lives under
// <basePath>/chains/<pair>/relay_data.db. relayerKey is the hex-encoded
// destination signing key shared by all pairs.
func NewRelayerClient(
	ctx context.Context,
	cfg *config.Config,
	basePath string,
	relayerKey string,
	logger zerolog.Logger,
) (*RelayerClient, error) {
	if relayerKey == "" {
		return nil, errors.Errorf("relayer key is not set; export %s", config.EnvRelayerKey)
	}
	key, err := ethcrypto.HexToECDSA(relayerKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid relayer key")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	client := &RelayerClient{
		cfg:    cfg,
		logger: logger.With().Str("component", "relayer_client").Logger(),
	}

	stores := api.PairStores{}
	for i := range cfg.ChainPairs {
		pair, err := client.buildPair(ctx, &cfg.ChainPairs[i], basePath, key, m, logger)
		if err != nil {
			client.closePairs()
			return nil, errors.Wrapf(err, "failed to set up chain pair %s", cfg.ChainPairs[i].Name)
		}
		client.pairs = append(client.pairs, pair)
		stores[pair.name] = pair.relayStore
	}

	client.apiServer = api.NewServer(cfg.QueryServerPort, stores, registry, logger)
	return client, nil
}

// buildPair dials both ledgers and assembles one pair's pipeline.
func (rc *RelayerClient) buildPair(
	ctx context.Context,
	pairCfg *config.ChainPairConfig,
	basePath string,
	key *ecdsa.PrivateKey,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*pairRuntime, error) {
	pairLogger := logger.With().Str("chain_pair", pairCfg.Name).Logger()

	database, err := db.OpenFileDB(filepath.Join(basePath, "chains", pairCfg.Name), "relay_data.db", true)
	if err != nil {
		return nil, err
	}

	sourceClient, err := evm.Dial(ctx, pairCfg.Source.ChainID, pairCfg.Source.RPCURL, pairLogger)
	if err != nil {
		database.Close()
		return nil, err
	}
	destClient, err := evm.Dial(ctx, pairCfg.Destination.ChainID, pairCfg.Destination.RPCURL, pairLogger)
	if err != nil {
		sourceClient.Close()
		database.Close()
		return nil, err
	}

	srcRegistry := ethcommon.HexToAddress(pairCfg.Source.RegistryAddress)
	srcCipher := ethcommon.HexToAddress(pairCfg.Source.CipherStoreAddress)
	parser := evm.NewEventParser(pairCfg.Source.ChainID, srcRegistry, srcCipher, pairLogger)
	source := evm.NewEventSource(
		sourceClient, parser,
		srcRegistry, srcCipher,
		pairCfg.Source.ConfirmationDepth, pairCfg.Source.BlockBatchSize,
		pairCfg.Source.ChainID, pairLogger,
	)

	submitter := evm.NewSubmitter(
		destClient, key,
		ethcommon.HexToAddress(pairCfg.Destination.RegistryAddress),
		ethcommon.HexToAddress(pairCfg.Destination.CipherStoreAddress),
		pairCfg.Destination.GasLimit,
		pairCfg.Destination.ChainID,
		time.Duration(rc.cfg.ConfirmationTimeoutSeconds)*time.Second,
		rc.retryConfig(),
		pairLogger,
	)

	relayStore := common.NewRelayStore(database, pairLogger)
	pipeline := NewMirrorPipeline(
		pairCfg.Name, pairCfg.Source.ChainID,
		source, submitter, relayStore,
		time.Duration(rc.cfg.EventPollingIntervalSeconds)*time.Second,
		m, pairLogger,
	)

	return &pairRuntime{
		name:       pairCfg.Name,
		database:   database,
		source:     sourceClient,
		dest:       destClient,
		relayStore: relayStore,
		pipeline:   pipeline,
	}, nil
}

// retryConfig maps the configured backoff knobs onto the retry helper.
func (rc *RelayerClient) retryConfig() *uerrors.RetryConfig {
	return &uerrors.RetryConfig{
		MaxAttempts:  rc.cfg.MaxRetries,
		InitialDelay: time.Duration(rc.cfg.RetryBackoffSeconds) * time.Second,
		MaxDelay:     time.Duration(rc.cfg.MaxRetryBackoffSeconds) * time.Second,
		Multiplier:   2.0,
	}
}

// Start launches the query server and one pipeline goroutine per pair.
func (rc *RelayerClient) Start(ctx context.Context) error {
	if err := rc.apiServer.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel

	for _, pair := range rc.pairs {
		rc.wg.Add(1)
		go func(p *pairRuntime) {
			defer rc.wg.Done()
			p.pipeline.Run(runCtx)
		}(pair)
	}

	rc.logger.Info().Int("chain_pairs", len(rc.pairs)).Msg("relayer started")
	return nil
}

// Stop cancels the pipelines, waits for them to drain, then releases
// ledger connections and databases.
func (rc *RelayerClient) Stop() {
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rc.apiServer != nil {
		if err := rc.apiServer.Stop(shutdownCtx); err != nil {
			rc.logger.Warn().Err(err).Msg("query server shutdown failed")
		}
	}

	rc.closePairs()
	rc.logger.Info().Msg("relayer stopped")
}

func (rc *RelayerClient) closePairs() {
	for _, pair := range rc.pairs {
		pair.source.Close()
		pair.dest.Close()
		if err := pair.database.Close(); err != nil {
			rc.logger.Warn().Err(err).Str("chain_pair", pair.name).Msg("database close failed")
		}
	}
}
