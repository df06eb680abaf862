// Package threshold implements the (T,N) threshold functional-encryption
// scheme behind TAPFed rounds: trusted-dealer Shamir key shares with
// Feldman commitments, exponential ElGamal over the bn256 G1 group for
// per-participant vectors, offline partial decryption, and Lagrange
// combination that recovers only the aggregate sum.
//
// No component ever holds the reconstructed private key. Shares decrypt
// nothing alone; the only privileged operation is Combine, and it yields
// the sum of all participants' plaintext vectors, never an individual one.
package threshold

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

var (
	// ErrInvalidThreshold is returned when t < 1 or t > n.
	ErrInvalidThreshold = errors.New("threshold: t must satisfy 1 <= t <= n")

	// ErrInsufficientShares is returned when fewer than T distinct
	// participants contributed partial decryptions. It is retriable:
	// more partials may still arrive.
	ErrInsufficientShares = errors.New("threshold: insufficient partial decryptions")

	// ErrDimensionMismatch is returned when ciphertext vector lengths
	// disagree.
	ErrDimensionMismatch = errors.New("threshold: ciphertext dimension mismatch")

	// ErrValueOutOfRange is returned when a recovered coordinate exceeds
	// the discrete-log bound.
	ErrValueOutOfRange = errors.New("threshold: recovered value exceeds bound")
)

// groupOrder is the prime order of bn256's groups; all scalar arithmetic
// is mod this.
var groupOrder = bn256.Order

// PublicParams are the scheme's public outputs: the encryption key and
// the Feldman commitments that let any holder verify their share.
type PublicParams struct {
	N int
	T int

	// PK = sk*G, the encryption key.
	PK *bn256.G1

	// Commitments[j] = a_j*G for polynomial coefficient a_j (a_0 = sk).
	Commitments []*bn256.G1
}

// KeyShare is one participant's Shamir share. ParticipantID doubles as
// the Shamir x-coordinate and must be unique and nonzero.
type KeyShare struct {
	ParticipantID uint64
	Value         *big.Int
}

// PartialDecryption is the offline-computable contribution of one share
// holder toward decrypting a ciphertext: Value = share * C1.
type PartialDecryption struct {
	ParticipantID uint64
	Value         *bn256.G1
}

// Generate runs the trusted-dealer key generation: a random degree t-1
// polynomial over the group order, shares f(1)..f(n), and Feldman
// commitments to the coefficients. Any subset of size >= t can jointly
// decrypt; any smaller subset learns nothing beyond the public params.
func Generate(n, t int, rng io.Reader) (*PublicParams, []KeyShare, error) {
	if t < 1 || t > n {
		return nil, nil, ErrInvalidThreshold
	}
	if rng == nil {
		rng = rand.Reader
	}

	coeffs := make([]*big.Int, t)
	commitments := make([]*bn256.G1, t)
	for j := 0; j < t; j++ {
		c, err := rand.Int(rng, groupOrder)
		if err != nil {
			return nil, nil, err
		}
		coeffs[j] = c
		commitments[j] = new(bn256.G1).ScalarBaseMult(c)
	}

	shares := make([]KeyShare, n)
	for i := 1; i <= n; i++ {
		shares[i-1] = KeyShare{
			ParticipantID: uint64(i),
			Value:         evalPoly(coeffs, uint64(i)),
		}
	}

	params := &PublicParams{
		N:           n,
		T:           t,
		PK:          new(bn256.G1).ScalarBaseMult(coeffs[0]),
		Commitments: commitments,
	}
	return params, shares, nil
}

// evalPoly evaluates the polynomial at x via Horner's rule, mod order.
func evalPoly(coeffs []*big.Int, x uint64) *big.Int {
	bx := new(big.Int).SetUint64(x)
	acc := new(big.Int)
	for j := len(coeffs) - 1; j >= 0; j-- {
		acc.Mul(acc, bx)
		acc.Add(acc, coeffs[j])
		acc.Mod(acc, groupOrder)
	}
	return acc
}

// VerifyShare checks a share against the Feldman commitments:
// share*G == sum_j x^j * Commitments[j].
func VerifyShare(params *PublicParams, share KeyShare) bool {
	if share.Value == nil || len(params.Commitments) == 0 {
		return false
	}

	lhs := new(bn256.G1).ScalarBaseMult(new(big.Int).Mod(share.Value, groupOrder))

	x := new(big.Int).SetUint64(share.ParticipantID)
	xj := big.NewInt(1)
	rhs := new(bn256.G1)
	first := true
	for _, c := range params.Commitments {
		term := new(bn256.G1).ScalarMult(c, xj)
		if first {
			rhs = term
			first = false
		} else {
			rhs = new(bn256.G1).Add(rhs, term)
		}
		xj = new(big.Int).Mod(new(big.Int).Mul(xj, x), groupOrder)
	}

	return string(lhs.Marshal()) == string(rhs.Marshal())
}

// PartialDecrypt computes one share holder's decryption contribution for
// a ciphertext. It is a pure function of the share and the ciphertext:
// no network, no shared state, so holders act independently and
// asynchronously.
func PartialDecrypt(share KeyShare, ct *Ciphertext) PartialDecryption {
	return PartialDecryption{
		ParticipantID: share.ParticipantID,
		Value:         new(bn256.G1).ScalarMult(ct.C1, new(big.Int).Mod(share.Value, groupOrder)),
	}
}

// Combine reconstructs the plaintext vector of a ciphertext from at
// least T distinct partial decryptions, independent of which subset
// contributed or in what order. Duplicate participant IDs are ignored.
// Each coordinate must lie in [-bound, bound] or ErrValueOutOfRange is
// returned; with fewer than T distinct partials it returns
// ErrInsufficientShares and never a partial numeric result.
func Combine(params *PublicParams, ct *Ciphertext, partials []PartialDecryption, bound int64) ([]int64, error) {
	distinct := make(map[uint64]*bn256.G1, len(partials))
	ids := make([]uint64, 0, len(partials))
	for _, p := range partials {
		if _, seen := distinct[p.ParticipantID]; seen || p.Value == nil {
			continue
		}
		distinct[p.ParticipantID] = p.Value
		ids = append(ids, p.ParticipantID)
	}

	if len(ids) < params.T {
		return nil, ErrInsufficientShares
	}
	// Exactly T partials determine the secret; extras are redundant.
	ids = ids[:params.T]

	// D = sum_i lambda_i * partial_i = sk * C1, by Lagrange interpolation
	// at zero over the contributing subset.
	var d *bn256.G1
	for idx, id := range ids {
		lambda := lagrangeCoefficient(ids, id)
		term := new(bn256.G1).ScalarMult(distinct[id], lambda)
		if idx == 0 {
			d = term
		} else {
			d = new(bn256.G1).Add(d, term)
		}
	}
	negD := new(bn256.G1).Neg(d)

	values := make([]int64, len(ct.C2))
	for k, c2 := range ct.C2 {
		m := new(bn256.G1).Add(c2, negD) // m = v_k * G
		v, err := discreteLog(m, bound)
		if err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, nil
}

// lagrangeCoefficient computes lambda_i at x=0 for the subset:
// prod_{j != i} x_j / (x_j - x_i) mod order.
func lagrangeCoefficient(ids []uint64, i uint64) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	xi := new(big.Int).SetUint64(i)

	for _, j := range ids {
		if j == i {
			continue
		}
		xj := new(big.Int).SetUint64(j)
		num.Mod(num.Mul(num, xj), groupOrder)

		diff := new(big.Int).Sub(xj, xi)
		diff.Mod(diff, groupOrder)
		den.Mod(den.Mul(den, diff), groupOrder)
	}

	den.ModInverse(den, groupOrder)
	return num.Mod(num.Mul(num, den), groupOrder)
}
