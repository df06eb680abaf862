package config

// Config is the top-level relayer configuration, stored as JSON under
// <home>/config/tapfed_config.json. The relayer signing key is never part
// of this file; it comes from the TAPFED_RELAYER_KEY environment variable.
type Config struct {
	// Logging
	LogLevel   int    `json:"log_level"`   // zerolog level: -1 trace .. 5 panic
	LogFormat  string `json:"log_format"`  // "console" or "json"
	LogSampler bool   `json:"log_sampler"` // sample hot-path logs

	// Query server
	QueryServerPort int `json:"query_server_port"`

	// Relay timing
	EventPollingIntervalSeconds int `json:"event_polling_interval_seconds"`
	ConfirmationTimeoutSeconds  int `json:"confirmation_timeout_seconds"`

	// Retry/backoff for transient ledger failures
	MaxRetries             int `json:"max_retries"`
	RetryBackoffSeconds    int `json:"retry_backoff_seconds"`
	MaxRetryBackoffSeconds int `json:"max_retry_backoff_seconds"`

	// Aggregation
	Threshold ThresholdConfig `json:"threshold"`
	DlogBound int64           `json:"dlog_bound"` // max absolute aggregate per coordinate

	// Mirrored chain pairs
	ChainPairs []ChainPairConfig `json:"chain_pairs"`
}

// ThresholdConfig is the (T,N) threshold scheme parameters.
type ThresholdConfig struct {
	T int `json:"t"`
	N int `json:"n"`
}

// ChainPairConfig describes one source→destination mirror relationship.
// Each pair gets its own database file and its own polling task.
type ChainPairConfig struct {
	Name        string              `json:"name"`
	Source      ChainEndpointConfig `json:"source"`
	Destination ChainEndpointConfig `json:"destination"`
}

// ChainEndpointConfig describes one ledger endpoint and its contracts.
type ChainEndpointConfig struct {
	ChainID            string `json:"chain_id"`
	RPCURL             string `json:"rpc_url"`
	RegistryAddress    string `json:"registry_address"`
	CipherStoreAddress string `json:"cipher_store_address"`

	// ConfirmationDepth is the finality depth: events are only surfaced
	// once they sit at least this many blocks below the head. Source side.
	ConfirmationDepth uint64 `json:"confirmation_depth,omitempty"`

	// BlockBatchSize bounds a single log filter range. Source side.
	BlockBatchSize uint64 `json:"block_batch_size,omitempty"`

	// GasLimit for mirror transactions. Destination side.
	GasLimit uint64 `json:"gas_limit,omitempty"`
}
