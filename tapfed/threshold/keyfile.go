package threshold

import (
	"encoding/hex"
	"encoding/json"
	"math/big"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
	"github.com/pkg/errors"
)

// paramsJSON is the on-disk form of PublicParams. Points are hex-encoded
// marshaled G1.
type paramsJSON struct {
	N           int      `json:"n"`
	T           int      `json:"t"`
	PK          string   `json:"pk"`
	Commitments []string `json:"commitments"`
}

type shareJSON struct {
	ParticipantID uint64 `json:"participant_id"`
	Value         string `json:"value"`
}

// MarshalJSON implements json.Marshaler for PublicParams.
func (p *PublicParams) MarshalJSON() ([]byte, error) {
	out := paramsJSON{
		N:           p.N,
		T:           p.T,
		PK:          hex.EncodeToString(p.PK.Marshal()),
		Commitments: make([]string, len(p.Commitments)),
	}
	for i, c := range p.Commitments {
		out.Commitments[i] = hex.EncodeToString(c.Marshal())
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for PublicParams.
func (p *PublicParams) UnmarshalJSON(data []byte) error {
	var in paramsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	pk, err := decodeG1(in.PK)
	if err != nil {
		return errors.Wrap(err, "threshold: invalid public key")
	}
	commitments := make([]*bn256.G1, len(in.Commitments))
	for i, c := range in.Commitments {
		if commitments[i], err = decodeG1(c); err != nil {
			return errors.Wrapf(err, "threshold: invalid commitment %d", i)
		}
	}
	p.N, p.T, p.PK, p.Commitments = in.N, in.T, pk, commitments
	return nil
}

// MarshalJSON implements json.Marshaler for KeyShare.
func (s KeyShare) MarshalJSON() ([]byte, error) {
	return json.Marshal(shareJSON{
		ParticipantID: s.ParticipantID,
		Value:         hex.EncodeToString(s.Value.Bytes()),
	})
}

// UnmarshalJSON implements json.Unmarshaler for KeyShare.
func (s *KeyShare) UnmarshalJSON(data []byte) error {
	var in shareJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	raw, err := hex.DecodeString(in.Value)
	if err != nil {
		return errors.Wrap(err, "threshold: invalid share value")
	}
	s.ParticipantID = in.ParticipantID
	s.Value = new(big.Int).SetBytes(raw)
	return nil
}

func decodeG1(s string) (*bn256.G1, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	p := new(bn256.G1)
	if _, err := p.Unmarshal(raw); err != nil {
		return nil, err
	}
	return p, nil
}
