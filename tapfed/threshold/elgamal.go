package threshold

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
	"github.com/pkg/errors"
)

// g1Len is the byte length of a marshaled bn256 G1 point.
const g1Len = 64

// Ciphertext is an exponential ElGamal encryption of an integer vector
// under the round public key. One nonce covers the whole vector:
//
//	C1   = r*G
//	C2_k = v_k*G + r*PK
//
// so a single partial decryption of C1 unlocks every coordinate.
// Ciphertexts under the same key add homomorphically coordinate-wise.
type Ciphertext struct {
	C1 *bn256.G1
	C2 []*bn256.G1
}

// Encrypt encrypts the vector under pk. Negative values are valid; they
// are mapped into the group as order-|v|. rng defaults to crypto/rand.
func Encrypt(pk *bn256.G1, values []int64, rng io.Reader) (*Ciphertext, error) {
	if len(values) == 0 {
		return nil, errors.New("threshold: cannot encrypt empty vector")
	}
	if rng == nil {
		rng = rand.Reader
	}

	r, err := rand.Int(rng, groupOrder)
	if err != nil {
		return nil, errors.Wrap(err, "threshold: nonce generation failed")
	}

	c1 := new(bn256.G1).ScalarBaseMult(r)
	mask := new(bn256.G1).ScalarMult(pk, r)

	c2 := make([]*bn256.G1, len(values))
	for k, v := range values {
		vk := new(big.Int).SetInt64(v)
		vk.Mod(vk, groupOrder)
		point := new(bn256.G1).ScalarBaseMult(vk)
		c2[k] = new(bn256.G1).Add(point, mask)
	}

	return &Ciphertext{C1: c1, C2: c2}, nil
}

// Add returns the coordinate-wise homomorphic sum of two ciphertexts
// encrypted under the same key. Decrypting the result yields the sum of
// the two plaintext vectors.
func Add(a, b *Ciphertext) (*Ciphertext, error) {
	if len(a.C2) != len(b.C2) {
		return nil, ErrDimensionMismatch
	}
	sum := &Ciphertext{
		C1: new(bn256.G1).Add(a.C1, b.C1),
		C2: make([]*bn256.G1, len(a.C2)),
	}
	for k := range a.C2 {
		sum.C2[k] = new(bn256.G1).Add(a.C2[k], b.C2[k])
	}
	return sum, nil
}

// Sum folds any number of ciphertexts into their homomorphic sum.
func Sum(cts []*Ciphertext) (*Ciphertext, error) {
	if len(cts) == 0 {
		return nil, errors.New("threshold: no ciphertexts to sum")
	}
	acc := cts[0]
	for _, ct := range cts[1:] {
		next, err := Add(acc, ct)
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return acc, nil
}

// Commitment binds a ciphertext to its round and participant:
// keccak256(roundId || participantId || C1 || C2...). It is the leaf
// value committed into the round's Merkle tree and emitted on-chain, so
// a blob fetched later can be checked against what was registered.
func (ct *Ciphertext) Commitment(roundID, participantID uint64) [32]byte {
	buf := make([]byte, 0, 16+g1Len*(1+len(ct.C2)))
	buf = binary.BigEndian.AppendUint64(buf, roundID)
	buf = binary.BigEndian.AppendUint64(buf, participantID)
	buf = append(buf, ct.C1.Marshal()...)
	for _, c2 := range ct.C2 {
		buf = append(buf, c2.Marshal()...)
	}
	return [32]byte(ethcrypto.Keccak256(buf))
}

// Bytes serializes the ciphertext: a big-endian uint32 vector length,
// then C1, then each C2 point, all as 64-byte marshaled G1 points.
func (ct *Ciphertext) Bytes() []byte {
	buf := make([]byte, 0, 4+g1Len*(1+len(ct.C2)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ct.C2)))
	buf = append(buf, ct.C1.Marshal()...)
	for _, c2 := range ct.C2 {
		buf = append(buf, c2.Marshal()...)
	}
	return buf
}

// ParseCiphertext is the inverse of Bytes. Every point is validated by
// the curve unmarshal, so a corrupted blob is rejected here rather than
// producing garbage sums.
func ParseCiphertext(data []byte) (*Ciphertext, error) {
	if len(data) < 4+g1Len {
		return nil, errors.New("threshold: ciphertext blob too short")
	}
	dim := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	if uint64(len(rest)) != uint64(dim+1)*g1Len {
		return nil, errors.Errorf("threshold: ciphertext blob length %d does not match dimension %d", len(data), dim)
	}

	c1 := new(bn256.G1)
	if _, err := c1.Unmarshal(rest[:g1Len]); err != nil {
		return nil, errors.Wrap(err, "threshold: invalid C1 point")
	}
	rest = rest[g1Len:]

	c2 := make([]*bn256.G1, dim)
	for k := range c2 {
		p := new(bn256.G1)
		if _, err := p.Unmarshal(rest[:g1Len]); err != nil {
			return nil, errors.Wrapf(err, "threshold: invalid C2 point at index %d", k)
		}
		c2[k] = p
		rest = rest[g1Len:]
	}

	return &Ciphertext{C1: c1, C2: c2}, nil
}
