// Package round assembles aggregation rounds on the participant side:
// encrypting a contribution into a blob-backed entry, and building the
// round manifest and Merkle commitment that get registered on the
// source ledger.
package round

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
	"github.com/pkg/errors"

	"github.com/tapfed/tapfed-node/tapfed/blob"
	"github.com/tapfed/tapfed-node/tapfed/merkle"
	"github.com/tapfed/tapfed-node/tapfed/threshold"
)

var (
	// ErrEmptyRound is returned when a round is built with no entries.
	ErrEmptyRound = errors.New("round: no entries")

	// ErrDuplicateParticipant is returned when two entries carry the same
	// participant id.
	ErrDuplicateParticipant = errors.New("round: duplicate participant")
)

// Entry is one participant's contribution reference: the blob holding
// the ciphertext and the commitment binding it to round and participant.
type Entry struct {
	ParticipantID uint64 `json:"participant_id"`
	Cid           string `json:"cid"`
	Commitment    string `json:"commitment"`
}

// CommitmentBytes decodes the entry's hex commitment.
func (e Entry) CommitmentBytes() ([32]byte, error) {
	raw, err := hex.DecodeString(e.Commitment)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, errors.Errorf("round: invalid commitment for participant %d", e.ParticipantID)
	}
	return [32]byte(raw), nil
}

// Manifest is the round metadata blob referenced by RoundRegistered.
type Manifest struct {
	RoundID    uint64  `json:"round_id"`
	MerkleRoot string  `json:"merkle_root"`
	Entries    []Entry `json:"entries"`
}

// Round is a fully built round ready to be registered.
type Round struct {
	RoundID     uint64
	MerkleRoot  [32]byte
	MetadataCid string
	Entries     []Entry
}

// EncryptEntry runs the participant side: encrypt the vector under the
// round key, store the ciphertext blob, and derive the commitment. The
// returned entry is what the participant posts as CipherStored.
func EncryptEntry(
	pk *bn256.G1,
	roundID, participantID uint64,
	values []int64,
	blobs blob.Store,
	rng io.Reader,
) (Entry, *threshold.Ciphertext, error) {
	ct, err := threshold.Encrypt(pk, values, rng)
	if err != nil {
		return Entry{}, nil, err
	}

	cid, err := blobs.Put(ct.Bytes())
	if err != nil {
		return Entry{}, nil, errors.Wrap(err, "round: failed to store ciphertext blob")
	}

	commitment := ct.Commitment(roundID, participantID)
	return Entry{
		ParticipantID: participantID,
		Cid:           cid,
		Commitment:    hex.EncodeToString(commitment[:]),
	}, ct, nil
}

// Build assembles a round from entries: entries sorted by participant
// id, a Merkle tree over the commitments, and a manifest blob. Every
// commitment is proof-checked against the freshly built root before the
// round is returned, so a manifest never references a commitment its
// root does not cover.
func Build(roundID uint64, entries []Entry, blobs blob.Store) (*Round, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyRound
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ParticipantID < sorted[j].ParticipantID
	})

	leaves := make([][32]byte, len(sorted))
	for i, e := range sorted {
		if i > 0 && sorted[i-1].ParticipantID == e.ParticipantID {
			return nil, errors.Wrapf(ErrDuplicateParticipant, "participant %d", e.ParticipantID)
		}
		leaf, err := e.CommitmentBytes()
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}

	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, err
	}
	root := tree.Root()

	for i, leaf := range leaves {
		proof, err := tree.Proof(leaf)
		if err != nil {
			return nil, errors.Wrapf(err, "round: commitment of participant %d", sorted[i].ParticipantID)
		}
		if !merkle.Verify(root, leaf, proof) {
			return nil, errors.Errorf("round: commitment of participant %d fails inclusion", sorted[i].ParticipantID)
		}
	}

	manifest := Manifest{
		RoundID:    roundID,
		MerkleRoot: hex.EncodeToString(root[:]),
		Entries:    sorted,
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, errors.Wrap(err, "round: failed to encode manifest")
	}
	metadataCid, err := blobs.Put(raw)
	if err != nil {
		return nil, errors.Wrap(err, "round: failed to store manifest blob")
	}

	return &Round{
		RoundID:     roundID,
		MerkleRoot:  root,
		MetadataCid: metadataCid,
		Entries:     sorted,
	}, nil
}

// LoadManifest fetches and decodes a round manifest by cid.
func LoadManifest(blobs blob.Store, cid string) (*Manifest, error) {
	raw, err := blobs.Get(cid)
	if err != nil {
		return nil, errors.Wrapf(err, "round: manifest %s", cid)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "round: invalid manifest")
	}
	return &m, nil
}
