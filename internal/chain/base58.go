package chain

import (
	"errors"
	"math/big"
)

// Base58 with the Bitcoin alphabet, the encoding for public keys and
// transaction signatures on the wire.

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var b58Index [128]int8

func init() {
	for i := range b58Index {
		b58Index[i] = -1
	}
	for i, c := range b58Alphabet {
		b58Index[c] = int8(i)
	}
}

var errBase58 = errors.New("chain: invalid base58")

var b58Radix = big.NewInt(58)

// base58Encode encodes raw bytes.
func base58Encode(in []byte) string {
	n := new(big.Int).SetBytes(in)
	mod := new(big.Int)

	out := make([]byte, 0, len(in)*137/100+1)
	for n.Sign() > 0 {
		n.DivMod(n, b58Radix, mod)
		out = append(out, b58Alphabet[mod.Int64()])
	}
	// Leading zero bytes become leading '1's.
	for _, b := range in {
		if b != 0 {
			break
		}
		out = append(out, '1')
	}
	// Reverse.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// base58Decode decodes a base58 string.
func base58Decode(s string) ([]byte, error) {
	n := new(big.Int)
	for _, c := range s {
		if c >= 128 || b58Index[c] < 0 {
			return nil, errBase58
		}
		n.Mul(n, b58Radix)
		n.Add(n, big.NewInt(int64(b58Index[c])))
	}

	out := n.Bytes()
	// Restore leading zero bytes.
	zeros := 0
	for _, c := range s {
		if c != '1' {
			break
		}
		zeros++
	}
	if zeros > 0 {
		out = append(make([]byte, zeros), out...)
	}
	return out, nil
}

// decodePubkey decodes a base58 public key and checks its length.
func decodePubkey(s string) ([32]byte, error) {
	var pk [32]byte
	raw, err := base58Decode(s)
	if err != nil || len(raw) != 32 {
		return pk, errBase58
	}
	copy(pk[:], raw)
	return pk, nil
}
