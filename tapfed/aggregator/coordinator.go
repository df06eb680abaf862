// Package aggregator drives a round from mirrored ciphertexts to a
// decrypted global sum. The coordinator holds no key material beyond
// the public params: it collects partial decryptions from share holders
// and combines them, so the only plaintext it ever produces is the
// aggregate.
package aggregator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/store"
	"github.com/tapfed/tapfed-node/tapfed/blob"
	"github.com/tapfed/tapfed-node/tapfed/round"
	"github.com/tapfed/tapfed-node/tapfed/threshold"
)

var (
	// ErrRoundNotMirrored is returned when aggregation is started before
	// every posted cipher has been mirrored and cross-checked.
	ErrRoundNotMirrored = errors.New("aggregator: round not fully mirrored")

	// ErrNotCollecting is returned when a partial arrives for a round
	// that is not accepting partials.
	ErrNotCollecting = errors.New("aggregator: round not collecting partials")

	// ErrUnknownRound is returned for rounds the coordinator never saw.
	ErrUnknownRound = errors.New("aggregator: unknown round")
)

// DestinationReader reads the destination ledger's own view of a round,
// used as the audit cross-check before aggregation starts.
type DestinationReader interface {
	CipherCount(ctx context.Context, roundID uint64) (uint64, error)
}

// MirrorLog is the durable relay record the coordinator trusts for
// mirror completeness and round status. *common.RelayStore satisfies it.
type MirrorLog interface {
	MirroredCipherCount(roundID uint64) (uint64, error)
	SetRoundStatus(roundID uint64, status string) error
}

// roundState is the coordinator's in-memory view of one round.
type roundState struct {
	manifest *round.Manifest
	status   string
	partials map[uint64]threshold.PartialDecryption
	result   []int64
}

// Coordinator runs the aggregation state machine:
// posted -> mirrored -> collecting -> aggregated | insufficient_shares.
// insufficient_shares is retriable; late partials can still complete the
// round.
type Coordinator struct {
	params      *threshold.PublicParams
	blobs       blob.Store
	mirrorLog   MirrorLog
	destination DestinationReader
	dlogBound   int64
	logger      zerolog.Logger

	mu     sync.Mutex
	rounds map[uint64]*roundState
}

// NewCoordinator creates a coordinator over the given stores.
func NewCoordinator(
	params *threshold.PublicParams,
	blobs blob.Store,
	mirrorLog MirrorLog,
	destination DestinationReader,
	dlogBound int64,
	logger zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		params:      params,
		blobs:       blobs,
		mirrorLog:   mirrorLog,
		destination: destination,
		dlogBound:   dlogBound,
		logger:      logger.With().Str("component", "aggregator").Logger(),
		rounds:      map[uint64]*roundState{},
	}
}

// RegisterRound loads a round's manifest and starts tracking it.
func (c *Coordinator) RegisterRound(roundID uint64, metadataCid string) error {
	manifest, err := round.LoadManifest(c.blobs, metadataCid)
	if err != nil {
		return err
	}
	if manifest.RoundID != roundID {
		return errors.Errorf("aggregator: manifest cid %s is for round %d, not %d", metadataCid, manifest.RoundID, roundID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rounds[roundID]; ok {
		return nil
	}
	c.rounds[roundID] = &roundState{
		manifest: manifest,
		status:   store.RoundStatusPosted,
		partials: map[uint64]threshold.PartialDecryption{},
	}
	c.logger.Info().Uint64("round_id", roundID).Int("entries", len(manifest.Entries)).Msg("round registered")
	return nil
}

// Status returns the round's current state.
func (c *Coordinator) Status(roundID uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rounds[roundID]
	if !ok {
		return "", ErrUnknownRound
	}
	return st.status, nil
}

// MarkMirrored moves a round to mirrored once every posted cipher has a
// mirror record AND the destination ledger reports the same count. A
// stalled mirror leaves the round in posted; calling again later is safe.
// On a round already at or past mirrored it is a no-op, so a periodic
// completeness sweep over all known rounds never rewinds the state machine.
func (c *Coordinator) MarkMirrored(ctx context.Context, roundID uint64) error {
	c.mu.Lock()
	st, ok := c.rounds[roundID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownRound
	}
	if st.status != store.RoundStatusPosted {
		c.mu.Unlock()
		return nil
	}
	expected := uint64(len(st.manifest.Entries))
	c.mu.Unlock()

	mirrored, err := c.mirrorLog.MirroredCipherCount(roundID)
	if err != nil {
		return errors.Wrap(err, "aggregator: mirror log lookup failed")
	}
	if mirrored < expected {
		return errors.Wrapf(ErrRoundNotMirrored, "%d of %d ciphers mirrored", mirrored, expected)
	}

	// The relay record alone could drift from the chain; the destination's
	// own count is the authority.
	onChain, err := c.destination.CipherCount(ctx, roundID)
	if err != nil {
		return errors.Wrap(err, "aggregator: destination cross-check failed")
	}
	if onChain < expected {
		return errors.Wrapf(ErrRoundNotMirrored, "destination holds %d of %d ciphers", onChain, expected)
	}

	c.setStatus(roundID, st, store.RoundStatusMirrored)
	c.logger.Info().Uint64("round_id", roundID).Msg("round fully mirrored")
	return nil
}

// SubmitPartial records one share holder's partial decryption. The first
// partial on a mirrored round moves it to collecting. Partials arrive in
// any order; a duplicate participant id is ignored without error and
// never double-counted. Also accepted while insufficient_shares, since
// late partials can revive a short round.
func (c *Coordinator) SubmitPartial(roundID uint64, partial threshold.PartialDecryption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.rounds[roundID]
	if !ok {
		return ErrUnknownRound
	}
	switch st.status {
	case store.RoundStatusMirrored:
		st.status = store.RoundStatusCollecting
	case store.RoundStatusCollecting, store.RoundStatusInsufficientShares:
	default:
		return errors.Wrapf(ErrNotCollecting, "round %d is %s", roundID, st.status)
	}

	if _, seen := st.partials[partial.ParticipantID]; seen {
		return nil
	}
	st.partials[partial.ParticipantID] = partial

	c.logger.Debug().
		Uint64("round_id", roundID).
		Uint64("participant_id", partial.ParticipantID).
		Int("partials", len(st.partials)).
		Msg("partial decryption recorded")
	return nil
}

// Reconstruct sums the round's ciphertexts and combines the collected
// partials into the global sum. With fewer than T distinct partials it
// returns ErrInsufficientShares and parks the round in that retriable
// state. On success the result is cached and re-Reconstruct is a no-op
// returning the same vector.
func (c *Coordinator) Reconstruct(roundID uint64) ([]int64, error) {
	c.mu.Lock()
	st, ok := c.rounds[roundID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownRound
	}
	if st.status == store.RoundStatusAggregated {
		result := st.result
		c.mu.Unlock()
		return result, nil
	}
	if st.status != store.RoundStatusCollecting && st.status != store.RoundStatusInsufficientShares {
		c.mu.Unlock()
		return nil, errors.Wrapf(ErrNotCollecting, "round %d is %s", roundID, st.status)
	}

	manifest := st.manifest
	partials := make([]threshold.PartialDecryption, 0, len(st.partials))
	for _, p := range st.partials {
		partials = append(partials, p)
	}
	c.mu.Unlock()

	sum, err := c.sumCiphertexts(manifest)
	if err != nil {
		return nil, err
	}

	values, err := threshold.Combine(c.params, sum, partials, c.dlogBound)
	if err != nil {
		if errors.Is(err, threshold.ErrInsufficientShares) {
			c.setStatus(roundID, st, store.RoundStatusInsufficientShares)
		}
		return nil, err
	}

	c.mu.Lock()
	st.result = values
	c.mu.Unlock()
	c.setStatus(roundID, st, store.RoundStatusAggregated)

	c.logger.Info().
		Uint64("round_id", roundID).
		Int("dimension", len(values)).
		Int("partials", len(partials)).
		Msg("round aggregated")
	return values, nil
}

// sumCiphertexts reads every entry's blob, validates it against its
// commitment, and folds the ciphertexts homomorphically.
func (c *Coordinator) sumCiphertexts(manifest *round.Manifest) (*threshold.Ciphertext, error) {
	cts := make([]*threshold.Ciphertext, 0, len(manifest.Entries))
	for _, entry := range manifest.Entries {
		raw, err := c.blobs.Get(entry.Cid)
		if err != nil {
			return nil, errors.Wrapf(err, "aggregator: cipher blob of participant %d", entry.ParticipantID)
		}

		ct, err := threshold.ParseCiphertext(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "aggregator: cipher of participant %d", entry.ParticipantID)
		}

		want, err := entry.CommitmentBytes()
		if err != nil {
			return nil, err
		}
		if got := ct.Commitment(manifest.RoundID, entry.ParticipantID); got != want {
			return nil, errors.Errorf("aggregator: commitment mismatch for participant %d", entry.ParticipantID)
		}

		cts = append(cts, ct)
	}
	return threshold.Sum(cts)
}

func (c *Coordinator) setStatus(roundID uint64, st *roundState, status string) {
	c.mu.Lock()
	st.status = status
	c.mu.Unlock()
	if err := c.mirrorLog.SetRoundStatus(roundID, status); err != nil {
		c.logger.Warn().Err(err).Uint64("round_id", roundID).Str("status", status).Msg("failed to persist round status")
	}
}
