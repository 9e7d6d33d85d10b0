// Command tokenlife-keygen writes a signing key for persistent key mode.
//
//	tokenlife-keygen --alg ES256 --out /etc/tokenlife/signing.pem
//
// The private key is written as PKCS#8 PEM with 0600 permissions. An
// existing file is never overwritten; rotate by writing a new file and
// pointing TOKENLIFE_KEYS_FILE at it.
package main

import (
	"fmt"
	"os"

	"github.com/MrEthical07/tokenlife/keys"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		alg       = flag.String("alg", keys.AlgorithmRS256, "signature algorithm: RS256, ES256 or EdDSA")
		bits      = flag.Int("bits", keys.DefaultRSABits, "RSA key size, RS256 only")
		out       = flag.StringP("out", "o", "", "private key output path (required)")
		publicOut = flag.String("public-out", "", "optional public key output path")
	)
	flag.Parse()

	if *out == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*alg, *bits, *out, *publicOut); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(alg string, bits int, out, publicOut string) error {
	kp, err := keys.Generate(alg, bits)
	if err != nil {
		return err
	}
	if err := keys.WriteFile(out, kp); err != nil {
		return err
	}

	if publicOut != "" {
		pub, err := kp.PublicPEM()
		if err != nil {
			return err
		}
		if err := os.WriteFile(publicOut, pub, 0o644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}
	}

	fmt.Printf("wrote %s key %s (kid %s)\n", kp.Algorithm(), out, kp.KeyID())
	return nil
}
