package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Key lifetime modes.
const (
	ModeEphemeral  = "ephemeral"
	ModePersistent = "persistent"
)

const (
	// DefaultRSABits matches the key size the service has always generated.
	DefaultRSABits = 2048
	minRSABits     = 2048
)

var (
	// ErrKeyGeneration is returned when a key pair cannot be generated or loaded.
	// It is fatal at startup.
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrUnsupportedAlgorithm is returned for algorithms outside RS256, ES256 and EdDSA.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// Provider owns an asymmetric key pair and exposes signing and verification.
//
// Implementations are immutable after construction and safe for concurrent use.
type Provider interface {
	Algorithm() string
	KeyID() string
	SigningMethod() jwt.SigningMethod
	SigningKey() crypto.PrivateKey
	VerifyKey() crypto.PublicKey
	Sign(signingInput []byte) ([]byte, error)
	Verify(signingInput, signature []byte) bool
}

// Options selects the algorithm and lifetime of the process key pair.
type Options struct {
	Algorithm string
	RSABits   int
	Mode      string
	File      string
}

// KeyPair is the default [Provider].
type KeyPair struct {
	alg     string
	kid     string
	method  jwt.SigningMethod
	private crypto.Signer
	public  crypto.PublicKey
}

var _ Provider = (*KeyPair)(nil)

// New builds the process key pair according to opts. In ModeEphemeral the key
// lives only in memory and every token becomes unverifiable after a restart.
// In ModePersistent the key is loaded from opts.File, or generated and written
// there when the file does not exist yet.
func New(opts Options) (*KeyPair, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmRS256
	}
	switch opts.Mode {
	case "", ModeEphemeral:
		return Generate(opts.Algorithm, opts.RSABits)
	case ModePersistent:
		return loadOrCreate(opts)
	default:
		return nil, fmt.Errorf("%w: unknown key mode %q", ErrKeyGeneration, opts.Mode)
	}
}

// Generate creates a fresh key pair for alg. rsaBits is only used for RS256;
// zero selects DefaultRSABits.
func Generate(alg string, rsaBits int) (*KeyPair, error) {
	var (
		signer crypto.Signer
		err    error
	)

	switch alg {
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = DefaultRSABits
		}
		if rsaBits < minRSABits {
			return nil, fmt.Errorf("%w: rsa key size %d below %d", ErrKeyGeneration, rsaBits, minRSABits)
		}
		signer, err = rsa.GenerateKey(rand.Reader, rsaBits)
	case AlgorithmES256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgorithmEdDSA:
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, fmt.Errorf("%w: %w: %q", ErrKeyGeneration, ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return fromSigner(signer)
}

// ParsePEM loads a private key in PEM form (PKCS#1 or PKCS#8 RSA, SEC1 or
// PKCS#8 P-256, PKCS#8 Ed25519) and infers the algorithm from the key type.
func ParsePEM(data []byte) (*KeyPair, error) {
	if rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		if rsaKey.N.BitLen() < minRSABits {
			return nil, fmt.Errorf("%w: rsa key size %d below %d", ErrKeyGeneration, rsaKey.N.BitLen(), minRSABits)
		}
		return fromSigner(rsaKey)
	}
	if ecKey, err := jwt.ParseECPrivateKeyFromPEM(data); err == nil {
		return fromSigner(ecKey)
	}
	if edKey, err := jwt.ParseEdPrivateKeyFromPEM(data); err == nil {
		signer, ok := edKey.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrKeyGeneration)
		}
		return fromSigner(signer)
	}
	return nil, fmt.Errorf("%w: unrecognised private key PEM", ErrKeyGeneration)
}

func fromSigner(signer crypto.Signer) (*KeyPair, error) {
	kp := &KeyPair{private: signer, public: signer.Public()}

	switch k := signer.(type) {
	case *rsa.PrivateKey:
		kp.alg = AlgorithmRS256
		kp.method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: %w: ecdsa curve %s", ErrKeyGeneration, ErrUnsupportedAlgorithm, k.Curve.Params().Name)
		}
		kp.alg = AlgorithmES256
		kp.method = jwt.SigningMethodES256
	case ed25519.PrivateKey:
		kp.alg = AlgorithmEdDSA
		kp.method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("%w: %w: key type %T", ErrKeyGeneration, ErrUnsupportedAlgorithm, signer)
	}

	kid, err := thumbprint(kp.public)
	if err != nil {
		return nil, err
	}
	kp.kid = kid
	return kp, nil
}

// thumbprint is the first 16 bytes of SHA-256 over the PKIX public key.
func thumbprint(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}

func (k *KeyPair) Algorithm() string { return k.alg }
func (k *KeyPair) KeyID() string { return k.kid }
func (k *KeyPair) SigningMethod() jwt.SigningMethod { return k.method }
func (k *KeyPair) SigningKey() crypto.PrivateKey { return k.private }
func (k *KeyPair) VerifyKey() crypto.PublicKey { return k.public }

// Sign signs signingInput with the private key.
func (k *KeyPair) Sign(signingInput []byte) ([]byte, error) {
	return k.method.Sign(string(signingInput), k.private)
}

// Verify reports whether signature is a valid signature of signingInput.
func (k *KeyPair) Verify(signingInput, signature []byte) bool {
	return k.method.Verify(string(signingInput), signature, k.public) == nil
}

// PrivatePEM encodes the private key as PKCS#8 PEM.
func (k *KeyPair) PrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicPEM encodes the public key as PKIX PEM for external verifiers.
func (k *KeyPair) PublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
