package jwt

import (
	"testing"
	"time"

	"github.com/MrEthical07/tokenlife/keys"
)

func FuzzDecode(f *testing.F) {
	kp, err := keys.Generate(keys.AlgorithmEdDSA, 0)
	if err != nil {
		f.Fatalf("generate key: %v", err)
	}
	c, err := NewCodec(kp, CodecConfig{})
	if err != nil {
		f.Fatalf("codec: %v", err)
	}
	valid, err := c.Encode(NewClaims("seed", KindAccess, []string{"r"}, "", time.Now(), time.Hour))
	if err != nil {
		f.Fatalf("encode: %v", err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.e30.")

	f.Fuzz(func(t *testing.T, in string) {
		claims, err := c.Decode(in)
		if err != nil {
			if claims != nil {
				t.Fatalf("claims returned alongside error")
			}
			return
		}
		if claims.Subject == "" || !claims.Kind.Valid() {
			t.Fatalf("decode accepted invalid claims: %+v", claims)
		}
	})
}
