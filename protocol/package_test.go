package protocol

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"testing"

	"github.com/flashbots/secagg/crypto"
	"github.com/stretchr/testify/require"
)

func TestBuildAAD(t *testing.T) {
	require.Equal(t, "round:7|client:c1|size:4", string(BuildAAD(7, "c1", 4)))
	require.Equal(t, "round:0|client:node-a.1|size:1", string(BuildAAD(0, "node-a.1", 1)))
}

func TestValidateClientID(t *testing.T) {
	for _, id := range []string{"c1", "client-01", "a.b_c", "X"} {
		require.NoError(t, ValidateClientID(id), id)
	}
	for _, id := range []string{"", "-c1", "c|1", "a b", "../x", "c:1"} {
		require.ErrorIs(t, ValidateClientID(id), ErrInvalidClientID, id)
	}
}

func TestMetadataSize(t *testing.T) {
	testCases := map[string]struct {
		shape []int
		size  int
		err   error
	}{
		"vector":         {shape: []int{4}, size: 4},
		"matrix":         {shape: []int{2, 3}, size: 6},
		"empty":          {err: crypto.ErrMalformedPackage},
		"zero dimension": {shape: []int{4, 0}, err: crypto.ErrMalformedPackage},
		"negative":       {shape: []int{-1}, err: crypto.ErrMalformedPackage},
		"wraps to zero":  {shape: []int{math.MaxInt/2 + 1, 4}, err: crypto.ErrMalformedPackage},
		"overflows":      {shape: []int{math.MaxInt, 2}, err: crypto.ErrMalformedPackage},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			size, err := (&Metadata{Shape: tc.shape}).Size()
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.size, size)
		})
	}
}

func TestUpdatePayloadCanonical(t *testing.T) {
	payload := NewUpdatePayload(3, "c<1>", []float32{1, 0.1, -2.5})
	encoded, err := payload.Canonical()
	require.NoError(t, err)
	require.Equal(t,
		`{"meta":{"round":3,"client_id":"c<1>","shape":[3],"dtype":"float32"},"data":[1,0.1,-2.5]}`,
		string(encoded))

	again, err := payload.Canonical()
	require.NoError(t, err)
	require.Equal(t, encoded, again)

	parsed, err := ParseUpdatePayload(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, parsed)
}

func TestUpdatePayloadRejectsNonFinite(t *testing.T) {
	for _, v := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		_, err := NewUpdatePayload(1, "c1", []float32{0, v}).Canonical()
		require.ErrorIs(t, err, ErrNonFiniteValue)
	}
}

func TestParseUpdatePayloadMalformed(t *testing.T) {
	testCases := map[string]string{
		"not json":       `{"meta":`,
		"wrong dtype":    `{"meta":{"round":1,"client_id":"c1","shape":[1],"dtype":"float64"},"data":[1]}`,
		"empty shape":    `{"meta":{"round":1,"client_id":"c1","shape":[],"dtype":"float32"},"data":[]}`,
		"short data":     `{"meta":{"round":1,"client_id":"c1","shape":[3],"dtype":"float32"},"data":[1,2]}`,
		"float overflow": `{"meta":{"round":1,"client_id":"c1","shape":[1],"dtype":"float32"},"data":[1e300]}`,
		"shape overflow": `{"meta":{"round":1,"client_id":"c1","shape":[4294967296,4294967296],"dtype":"float32"},"data":[]}`,
	}
	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUpdatePayload([]byte(input))
			require.ErrorIs(t, err, crypto.ErrMalformedPackage)
		})
	}
}

func TestEncryptedPackageRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte(`{"data":[1,2,3]}`)
	aad := BuildAAD(1, "c1", 3)
	sealed, err := crypto.Encrypt(kp.Public, plaintext, aad)
	require.NoError(t, err)

	digest := crypto.Sum(plaintext)
	pkg := NewEncryptedPackage(sealed)
	pkg.Meta = &Metadata{Round: 1, ClientID: "c1", Shape: []int{3}, DType: DTypeFloat32}
	pkg.PlaintextSHA256 = &digest

	encoded, err := pkg.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(encoded, &wire))
	require.Equal(t, "X25519-AESGCM", wire["enc"])
	require.Equal(t, base64.StdEncoding.EncodeToString(aad), wire["aad"])
	require.Equal(t, digest.String(), wire["plaintext_sha256"])

	decoded, err := DecodePackage(encoded)
	require.NoError(t, err)
	require.Equal(t, pkg, decoded)

	opened, err := decoded.Decrypt(kp.Private)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestEncryptedPackageMalformed(t *testing.T) {
	_, err := DecodePackage([]byte(`{"version":`))
	require.ErrorIs(t, err, crypto.ErrMalformedPackage)

	_, err = DecodePackage([]byte(`{"plaintext_sha256":"zz"}`))
	require.ErrorIs(t, err, crypto.ErrMalformedPackage)

	pkg := &EncryptedPackage{
		Version:    crypto.Version,
		Enc:        crypto.Suite,
		EPK:        make([]byte, 31),
		Nonce:      make([]byte, crypto.NonceSize),
		Ciphertext: make([]byte, crypto.TagSize),
	}
	_, err = pkg.Sealed()
	require.ErrorIs(t, err, crypto.ErrMalformedPackage)

	var nilPkg *EncryptedPackage
	_, err = nilPkg.Sealed()
	require.ErrorIs(t, err, crypto.ErrMalformedPackage)
}

func TestClassifyFailure(t *testing.T) {
	require.Equal(t, KindAuthentication, ClassifyFailure(crypto.ErrAuthenticationFailure))
	require.Equal(t, KindMalformed, ClassifyFailure(crypto.ErrMalformedPackage))
	require.Equal(t, KindMalformed, ClassifyFailure(ErrNonFiniteValue))
	require.Equal(t, KindDigest, ClassifyFailure(ErrDigestMismatch))
	require.Equal(t, KindContext, ClassifyFailure(ErrContextMismatch))

	aborted := NewRoundAbortedError(9, "c2", crypto.ErrAuthenticationFailure)
	require.ErrorIs(t, aborted, crypto.ErrAuthenticationFailure)
	require.Equal(t, KindAuthentication, aborted.Kind)
	require.Contains(t, aborted.Error(), "client c2")

	var shapeErr error = &ShapeMismatchError{ClientID: "c3", Expected: 4, Got: 5}
	require.ErrorIs(t, shapeErr, ErrShapeMismatch)
}
