package threshold

import (
	"math"
	"math/big"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

// MaxBound is the largest supported discrete-log bound. Beyond it the
// shifted range 2*bound no longer fits safely in the step arithmetic and
// the baby-step table stops being a realistic in-memory structure.
const MaxBound = int64(1) << 48

// discreteLog recovers v from m = v*G with v in [-bound, bound] using
// baby-step giant-step over the shifted range [0, 2*bound]. Cost is
// O(sqrt(bound)) group operations per call; with the default bound of
// 2^32 that is about 93k steps, well inside a polling interval.
func discreteLog(m *bn256.G1, bound int64) (int64, error) {
	if bound <= 0 || bound > MaxBound {
		return 0, ErrValueOutOfRange
	}

	// Shift by +bound so the search range is non-negative: look for
	// s = v + bound in [0, 2*bound] such that m + bound*G = s*G.
	shifted := new(bn256.G1).Add(m, new(bn256.G1).ScalarBaseMult(big.NewInt(bound)))

	rangeSize := uint64(2*bound) + 1
	stride := uint64(math.Ceil(math.Sqrt(float64(rangeSize))))

	// Baby steps: j*G for j in [0, stride).
	baby := make(map[string]uint64, stride)
	step := new(bn256.G1).ScalarBaseMult(big.NewInt(1))
	cur := new(bn256.G1).ScalarBaseMult(big.NewInt(0))
	for j := uint64(0); j < stride; j++ {
		baby[string(cur.Marshal())] = j
		cur = new(bn256.G1).Add(cur, step)
	}

	// Giant steps: walk shifted - i*stride*G and look for a baby match.
	giantStep := new(bn256.G1).Neg(new(bn256.G1).ScalarBaseMult(new(big.Int).SetUint64(stride)))
	probe := shifted
	for i := uint64(0); i*stride < rangeSize; i++ {
		if j, ok := baby[string(probe.Marshal())]; ok {
			s := i*stride + j
			if s > uint64(2*bound) {
				break
			}
			return int64(s) - bound, nil
		}
		probe = new(bn256.G1).Add(probe, giantStep)
	}

	return 0, ErrValueOutOfRange
}
