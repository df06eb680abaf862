package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBound = 1 << 12

func TestGenerate(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		params, shares, err := Generate(5, 3, nil)
		require.NoError(t, err)
		require.NotNil(t, params)
		require.Len(t, shares, 5)
		assert.Equal(t, 5, params.N)
		assert.Equal(t, 3, params.T)
		assert.Len(t, params.Commitments, 3)

		for _, share := range shares {
			assert.True(t, VerifyShare(params, share), "share %d fails Feldman check", share.ParticipantID)
		}
	})

	t.Run("threshold of one", func(t *testing.T) {
		params, shares, err := Generate(1, 1, nil)
		require.NoError(t, err)
		assert.Len(t, shares, 1)
		assert.True(t, VerifyShare(params, shares[0]))
	})

	t.Run("invalid thresholds", func(t *testing.T) {
		for _, tc := range []struct{ n, t int }{
			{5, 0},
			{5, -1},
			{5, 6},
			{0, 1},
		} {
			_, _, err := Generate(tc.n, tc.t, nil)
			assert.ErrorIs(t, err, ErrInvalidThreshold, "n=%d t=%d", tc.n, tc.t)
		}
	})

	t.Run("tampered share fails verification", func(t *testing.T) {
		params, shares, err := Generate(3, 2, nil)
		require.NoError(t, err)

		bad := shares[0]
		bad.ParticipantID = shares[1].ParticipantID
		assert.False(t, VerifyShare(params, bad))
	})
}

func TestCombine(t *testing.T) {
	params, shares, err := Generate(5, 3, nil)
	require.NoError(t, err)

	vector := []int64{10, -7, 0, 255}
	ct, err := Encrypt(params.PK, vector, nil)
	require.NoError(t, err)

	partialsFor := func(ids ...int) []PartialDecryption {
		out := make([]PartialDecryption, 0, len(ids))
		for _, id := range ids {
			out = append(out, PartialDecrypt(shares[id-1], ct))
		}
		return out
	}

	t.Run("any T-subset recovers the same plaintext", func(t *testing.T) {
		a, err := Combine(params, ct, partialsFor(1, 3, 4), testBound)
		require.NoError(t, err)
		b, err := Combine(params, ct, partialsFor(2, 3, 5), testBound)
		require.NoError(t, err)

		assert.Equal(t, vector, a)
		assert.Equal(t, a, b)
	})

	t.Run("order of partials is irrelevant", func(t *testing.T) {
		a, err := Combine(params, ct, partialsFor(4, 1, 3), testBound)
		require.NoError(t, err)
		assert.Equal(t, vector, a)
	})

	t.Run("more than T partials works", func(t *testing.T) {
		a, err := Combine(params, ct, partialsFor(1, 2, 3, 4, 5), testBound)
		require.NoError(t, err)
		assert.Equal(t, vector, a)
	})

	t.Run("below threshold refuses", func(t *testing.T) {
		_, err := Combine(params, ct, partialsFor(1, 2), testBound)
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("duplicates do not count toward the quorum", func(t *testing.T) {
		partials := partialsFor(1, 2)
		partials = append(partials, partialsFor(1)...)
		_, err := Combine(params, ct, partials, testBound)
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("value beyond the dlog bound is rejected", func(t *testing.T) {
		big, err := Encrypt(params.PK, []int64{testBound + 1}, nil)
		require.NoError(t, err)

		partials := []PartialDecryption{
			PartialDecrypt(shares[0], big),
			PartialDecrypt(shares[1], big),
			PartialDecrypt(shares[2], big),
		}
		_, err = Combine(params, big, partials, testBound)
		assert.ErrorIs(t, err, ErrValueOutOfRange)
	})

	t.Run("bound beyond the supported maximum is rejected", func(t *testing.T) {
		_, err := Combine(params, ct, partialsFor(1, 2, 3), MaxBound+1)
		assert.ErrorIs(t, err, ErrValueOutOfRange)
	})
}

func TestHomomorphicSum(t *testing.T) {
	params, shares, err := Generate(4, 2, nil)
	require.NoError(t, err)

	vectors := [][]int64{
		{1, 2, 3},
		{-4, 10, 0},
		{100, -100, 7},
	}
	want := []int64{97, -88, 10}

	cts := make([]*Ciphertext, len(vectors))
	for i, v := range vectors {
		cts[i], err = Encrypt(params.PK, v, nil)
		require.NoError(t, err)
	}

	sum, err := Sum(cts)
	require.NoError(t, err)

	partials := []PartialDecryption{
		PartialDecrypt(shares[1], sum),
		PartialDecrypt(shares[3], sum),
	}
	got, err := Combine(params, sum, partials, testBound)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAddDimensionMismatch(t *testing.T) {
	params, _, err := Generate(3, 2, nil)
	require.NoError(t, err)

	a, err := Encrypt(params.PK, []int64{1, 2}, nil)
	require.NoError(t, err)
	b, err := Encrypt(params.PK, []int64{1, 2, 3}, nil)
	require.NoError(t, err)

	_, err = Add(a, b)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCiphertextSerialization(t *testing.T) {
	params, _, err := Generate(3, 2, nil)
	require.NoError(t, err)

	ct, err := Encrypt(params.PK, []int64{42, -1, 9000}, nil)
	require.NoError(t, err)

	t.Run("roundtrip", func(t *testing.T) {
		parsed, err := ParseCiphertext(ct.Bytes())
		require.NoError(t, err)
		assert.Equal(t, ct.Bytes(), parsed.Bytes())
	})

	t.Run("commitment survives roundtrip", func(t *testing.T) {
		parsed, err := ParseCiphertext(ct.Bytes())
		require.NoError(t, err)
		assert.Equal(t, ct.Commitment(7, 3), parsed.Commitment(7, 3))
	})

	t.Run("commitment binds round and participant", func(t *testing.T) {
		assert.NotEqual(t, ct.Commitment(7, 3), ct.Commitment(7, 4))
		assert.NotEqual(t, ct.Commitment(7, 3), ct.Commitment(8, 3))
	})

	t.Run("truncated blob rejected", func(t *testing.T) {
		raw := ct.Bytes()
		_, err := ParseCiphertext(raw[:len(raw)-1])
		assert.Error(t, err)
	})

	t.Run("corrupted point rejected", func(t *testing.T) {
		raw := ct.Bytes()
		for i := 4; i < 4+g1Len; i++ {
			raw[i] = 0xff
		}
		_, err := ParseCiphertext(raw)
		assert.Error(t, err)
	})

	t.Run("empty vector refused", func(t *testing.T) {
		_, err := Encrypt(params.PK, nil, nil)
		assert.Error(t, err)
	})
}

func TestKeyfileRoundtrip(t *testing.T) {
	params, shares, err := Generate(3, 2, nil)
	require.NoError(t, err)

	rawParams, err := params.MarshalJSON()
	require.NoError(t, err)
	var gotParams PublicParams
	require.NoError(t, gotParams.UnmarshalJSON(rawParams))
	assert.Equal(t, params.N, gotParams.N)
	assert.Equal(t, params.T, gotParams.T)
	assert.Equal(t, params.PK.Marshal(), gotParams.PK.Marshal())

	rawShare, err := shares[0].MarshalJSON()
	require.NoError(t, err)
	var gotShare KeyShare
	require.NoError(t, gotShare.UnmarshalJSON(rawShare))
	assert.Equal(t, shares[0].ParticipantID, gotShare.ParticipantID)
	assert.Zero(t, shares[0].Value.Cmp(gotShare.Value))

	// Shares deserialized from disk still pass the Feldman check.
	assert.True(t, VerifyShare(&gotParams, gotShare))
}
