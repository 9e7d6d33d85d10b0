package keys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func loadOrCreate(opts Options) (*KeyPair, error) {
	if opts.File == "" {
		return nil, fmt.Errorf("%w: persistent mode requires a key file", ErrKeyGeneration)
	}

	data, err := os.ReadFile(opts.File)
	switch {
	case err == nil:
		kp, err := ParsePEM(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.File, err)
		}
		if kp.Algorithm() != opts.Algorithm {
			return nil, fmt.Errorf("%w: %s holds an %s key, configured algorithm is %s",
				ErrKeyGeneration, opts.File, kp.Algorithm(), opts.Algorithm)
		}
		return kp, nil
	case errors.Is(err, fs.ErrNotExist):
		kp, err := Generate(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, err
		}
		if err := WriteFile(opts.File, kp); err != nil {
			return nil, err
		}
		return kp, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
}

// WriteFile stores the private key of kp at path as PKCS#8 PEM with 0600
// permissions. An existing file is never overwritten.
func WriteFile(path string, kp *KeyPair) error {
	pemBytes, err := kp.PrivatePEM()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if _, err := f.Write(pemBytes); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return nil
}
