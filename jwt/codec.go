package jwt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/tokenlife/keys"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed reports a token that is not three well-formed segments,
	// whose claims do not decode, or whose payload breaks an invariant.
	ErrMalformed = errors.New("malformed token")
	// ErrSignature reports a signature that does not match the payload.
	ErrSignature = errors.New("token signature invalid")
	// ErrUnsupportedAlgorithm reports an alg header other than the signer's.
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
)

// CodecConfig holds the static settings of a [Codec].
type CodecConfig struct {
	// Issuer is written into iss and, when non-empty, required on decode.
	Issuer string
}

// Codec turns [Claims] into signed strings and back.
//
// Codec is immutable and safe for concurrent use.
type Codec struct {
	provider keys.Provider
	issuer   string
	parser   *jwt.Parser
}

// NewCodec returns a codec signing with provider.
func NewCodec(provider keys.Provider, cfg CodecConfig) (*Codec, error) {
	if provider == nil {
		return nil, errors.New("jwt: key provider required")
	}
	return &Codec{
		provider: provider,
		issuer:   cfg.Issuer,
		parser:   jwt.NewParser(jwt.WithoutClaimsValidation()),
	}, nil
}

// Issuer returns the configured issuer claim.
func (c *Codec) Issuer() string {
	return c.issuer
}

// Encode serializes claims, signs them with the key provider and returns the
// compact token.
func (c *Codec) Encode(claims Claims) (string, error) {
	if err := claims.check(); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(c.provider.SigningMethod(), claims)
	token.Header["kid"] = c.provider.KeyID()

	signingInput, err := token.SigningString()
	if err != nil {
		return "", fmt.Errorf("jwt: encode claims: %w", err)
	}
	sig, err := c.provider.Sign([]byte(signingInput))
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}

	return signingInput + "." + token.EncodeSegment(sig), nil
}

// Decode splits tokenStr, verifies its signature against the untouched
// header.payload bytes and returns the claims. It fails closed with
// ErrMalformed, ErrSignature or ErrUnsupportedAlgorithm. Expiry is not
// checked here.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, parts, err := c.parser.ParseUnverified(tokenStr, claims)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	if alg := token.Method.Alg(); alg != c.provider.SigningMethod().Alg() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	if kid, ok := token.Header["kid"].(string); ok && kid != c.provider.KeyID() {
		return nil, fmt.Errorf("%w: unknown kid", ErrSignature)
	}

	sig, err := c.parser.DecodeSegment(parts[2])
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: signature segment", ErrMalformed)
	}
	signingInput := tokenStr[:strings.LastIndexByte(tokenStr, '.')]
	if !c.provider.Verify([]byte(signingInput), sig) {
		return nil, ErrSignature
	}

	if err := claims.check(); err != nil {
		return nil, err
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrMalformed)
	}

	return claims, nil
}
