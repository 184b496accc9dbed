package venue

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/blake2b"

	"orderengine/src/model"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// txHash derives an opaque, signature-shaped reference for a simulated fill:
// a base58 BLAKE2b-512 digest of the swap parameters and a random nonce.
func (s *Simulator) txHash(venue model.Venue, tokenIn, tokenOut string, amountIn float64) string {
	s.mu.Lock()
	nonce := s.rng.Uint64()
	s.mu.Unlock()

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))

	payload := fmt.Sprintf("%s|%s|%s|%.8f|", venue, tokenIn, tokenOut, amountIn)
	sum := blake2b.Sum512(append([]byte(payload), buf[:]...))
	return encodeBase58(sum[:])
}

func encodeBase58(b []byte) string {
	n := new(big.Int).SetBytes(b)
	radix := big.NewInt(int64(len(base58Alphabet)))
	mod := new(big.Int)

	out := make([]byte, 0, len(b)*138/100+1)
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
