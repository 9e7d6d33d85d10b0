package jwt

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/tokenlife/keys"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, alg string) (*Codec, *keys.KeyPair) {
	t.Helper()
	kp, err := keys.Generate(alg, 0)
	require.NoError(t, err)
	c, err := NewCodec(kp, CodecConfig{Issuer: "tokenlife-test"})
	require.NoError(t, err)
	return c, kp
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now()
	for _, alg := range []string{keys.AlgorithmRS256, keys.AlgorithmES256, keys.AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			c, _ := newTestCodec(t, alg)

			in := NewClaims("alice@example.com", KindAccess, []string{"admin", "user"}, c.Issuer(), now, time.Hour)
			tok, err := c.Encode(in)
			require.NoError(t, err)
			require.Equal(t, 2, strings.Count(tok, "."))

			out, err := c.Decode(tok)
			require.NoError(t, err)
			require.Equal(t, in.Subject, out.Subject)
			require.Equal(t, KindAccess, out.Kind)
			require.Equal(t, []string{"admin", "user"}, out.Roles)
			require.Equal(t, in.ID, out.ID)
			require.Equal(t, in.IssuedAt.Unix(), out.IssuedAt.Unix())
			require.Equal(t, in.ExpiresAt.Unix(), out.ExpiresAt.Unix())
		})
	}
}

func TestNewClaimsUniqueIDs(t *testing.T) {
	now := time.Now()
	a := NewClaims("bob", KindAccess, nil, "", now, time.Minute)
	b := NewClaims("bob", KindAccess, nil, "", now, time.Minute)
	require.NotEqual(t, a.ID, b.ID)

	r := NewClaims("bob", KindRefresh, []string{"admin"}, "", now, time.Minute)
	require.Empty(t, r.Roles)
}

func TestDecodeDetectsTampering(t *testing.T) {
	c, _ := newTestCodec(t, keys.AlgorithmES256)
	tok, err := c.Encode(NewClaims("alice", KindAccess, nil, c.Issuer(), time.Now(), time.Hour))
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), `"alice"`, `"mallory"`, 1)
	swapped := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[2]
	_, err = c.Decode(swapped)
	require.ErrorIs(t, err, ErrSignature)
}

func TestDecodeRejectsEverySignatureBitFlip(t *testing.T) {
	for _, alg := range []string{keys.AlgorithmRS256, keys.AlgorithmES256, keys.AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			c, _ := newTestCodec(t, alg)
			tok, err := c.Encode(NewClaims("alice", KindAccess, nil, c.Issuer(), time.Now(), time.Hour))
			require.NoError(t, err)

			cut := strings.LastIndexByte(tok, '.')
			sig, err := base64.RawURLEncoding.DecodeString(tok[cut+1:])
			require.NoError(t, err)

			for bit := 0; bit < len(sig)*8; bit++ {
				mutated := append([]byte(nil), sig...)
				mutated[bit/8] ^= 1 << (bit % 8)
				_, err := c.Decode(tok[:cut+1] + base64.RawURLEncoding.EncodeToString(mutated))
				require.ErrorIs(t, err, ErrSignature, "bit %d", bit)
			}
		})
	}
}

func TestDecodeRejectsForeignKey(t *testing.T) {
	c1, _ := newTestCodec(t, keys.AlgorithmEdDSA)
	c2, _ := newTestCodec(t, keys.AlgorithmEdDSA)

	tok, err := c1.Encode(NewClaims("alice", KindAccess, nil, c1.Issuer(), time.Now(), time.Hour))
	require.NoError(t, err)

	_, err = c2.Decode(tok)
	require.ErrorIs(t, err, ErrSignature)
}

func TestDecodeRejectsAlgorithmSwitch(t *testing.T) {
	c, kp := newTestCodec(t, keys.AlgorithmRS256)
	claims := NewClaims("alice", KindAccess, nil, c.Issuer(), time.Now(), time.Hour)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = c.Decode(none)
	require.Error(t, err)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	hs.Header["kid"] = kp.KeyID()
	pub, err := kp.PublicPEM()
	require.NoError(t, err)
	confused, err := hs.SignedString(pub)
	require.NoError(t, err)
	_, err = c.Decode(confused)
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestDecodeMalformed(t *testing.T) {
	c, _ := newTestCodec(t, keys.AlgorithmEdDSA)

	cases := []string{
		"",
		"abc",
		"a.b",
		"a.b.c.d",
		"!!!.###.$$$",
		base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA"}`)) + ".e30.",
	}
	for _, in := range cases {
		_, err := c.Decode(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestEncodeRejectsInvalidClaims(t *testing.T) {
	c, _ := newTestCodec(t, keys.AlgorithmEdDSA)
	now := time.Now()

	_, err := c.Encode(NewClaims("", KindAccess, nil, "", now, time.Hour))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = c.Encode(NewClaims("alice", Kind("ID_TOKEN"), nil, "", now, time.Hour))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = c.Encode(NewClaims("alice", KindAccess, nil, "", now, 0))
	require.ErrorIs(t, err, ErrMalformed)

	bad := NewClaims("alice", KindRefresh, nil, "", now, time.Hour)
	bad.Roles = []string{"admin"}
	_, err = c.Encode(bad)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeIgnoresExpiry(t *testing.T) {
	c, _ := newTestCodec(t, keys.AlgorithmEdDSA)
	past := time.Now().Add(-2 * time.Hour)

	tok, err := c.Encode(NewClaims("alice", KindRefresh, nil, c.Issuer(), past, time.Hour))
	require.NoError(t, err)

	claims, err := c.Decode(tok)
	require.NoError(t, err)
	require.True(t, claims.Expired(time.Now()))
	require.False(t, claims.Expired(past))
	require.True(t, claims.Expired(claims.ExpiresAt.Time))
}

func TestDecodeIssuerMismatch(t *testing.T) {
	kp, err := keys.Generate(keys.AlgorithmEdDSA, 0)
	require.NoError(t, err)
	a, err := NewCodec(kp, CodecConfig{Issuer: "a"})
	require.NoError(t, err)
	b, err := NewCodec(kp, CodecConfig{Issuer: "b"})
	require.NoError(t, err)

	tok, err := a.Encode(NewClaims("alice", KindAccess, nil, "a", time.Now(), time.Hour))
	require.NoError(t, err)
	_, err = b.Decode(tok)
	require.ErrorIs(t, err, ErrMalformed)
}
