package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
)

// Well-known program addresses.
const (
	tokenProgramID   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	ataProgramID     = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	systemProgramID  = "11111111111111111111111111111111"
	pdaMarker        = "ProgramDerivedAddress"
	tokenInsTransfer = 3
	tokenInsBurn     = 8
)

// Keypair is an ed25519 signing key with its base58 public key.
type Keypair struct {
	pub  string
	priv ed25519.PrivateKey
}

// ParseKeypair decodes a base58-encoded 64-byte secret key (the
// standard wallet export format: seed ∥ public key).
func ParseKeypair(secretBase58 string) (*Keypair, error) {
	raw, err := base58Decode(secretBase58)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("chain: malformed signing key")
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{pub: base58Encode(pub), priv: priv}, nil
}

// PublicKey returns the base58 public key.
func (k *Keypair) PublicKey() string { return k.pub }

// accountMeta is one account reference in an instruction.
type accountMeta struct {
	pubkey   string
	signer   bool
	writable bool
}

// instruction is one program invocation before compilation.
type instruction struct {
	programID string
	accounts  []accountMeta
	data      []byte
}

// transferInstruction builds an SPL token Transfer.
func transferInstruction(p TransferParams) instruction {
	data := make([]byte, 9)
	data[0] = tokenInsTransfer
	binary.LittleEndian.PutUint64(data[1:], p.Amount)
	return instruction{
		programID: tokenProgramID,
		accounts: []accountMeta{
			{pubkey: p.FromAccount, writable: true},
			{pubkey: p.ToAccount, writable: true},
			{pubkey: p.Owner, signer: true},
		},
		data: data,
	}
}

// burnInstruction builds an SPL token Burn.
func burnInstruction(p BurnParams) instruction {
	data := make([]byte, 9)
	data[0] = tokenInsBurn
	binary.LittleEndian.PutUint64(data[1:], p.Amount)
	return instruction{
		programID: tokenProgramID,
		accounts: []accountMeta{
			{pubkey: p.Account, writable: true},
			{pubkey: p.Mint, writable: true},
			{pubkey: p.Owner, signer: true},
		},
		data: data,
	}
}

// createATAInstruction builds an associated-token-account creation.
func createATAInstruction(payer, ata, owner, mint string) instruction {
	return instruction{
		programID: ataProgramID,
		accounts: []accountMeta{
			{pubkey: payer, signer: true, writable: true},
			{pubkey: ata, writable: true},
			{pubkey: owner},
			{pubkey: mint},
			{pubkey: systemProgramID},
			{pubkey: tokenProgramID},
		},
	}
}

// DeriveATA computes the associated token account address for
// (owner, mint): the first program-derived address off the ed25519
// curve for seeds [owner, token program, mint] under the ATA program.
func DeriveATA(owner, mint string) (string, error) {
	ownerPk, err := decodePubkey(owner)
	if err != nil {
		return "", fmt.Errorf("chain: owner %q: %w", owner, err)
	}
	mintPk, err := decodePubkey(mint)
	if err != nil {
		return "", fmt.Errorf("chain: mint %q: %w", mint, err)
	}
	tokenPk, _ := decodePubkey(tokenProgramID)
	ataPk, _ := decodePubkey(ataProgramID)

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write(ownerPk[:])
		h.Write(tokenPk[:])
		h.Write(mintPk[:])
		h.Write([]byte{byte(bump)})
		h.Write(ataPk[:])
		h.Write([]byte(pdaMarker))
		candidate := h.Sum(nil)

		// A PDA must not be a valid curve point; SetBytes fails for
		// exactly the off-curve encodings.
		if _, err := new(edwards25519.Point).SetBytes(candidate); err != nil {
			return base58Encode(candidate), nil
		}
	}
	return "", fmt.Errorf("chain: no off-curve ATA for owner %s", owner)
}

// shortvec appends the compact-u16 length encoding.
func shortvec(buf []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(buf, byte(n))
		}
		buf = append(buf, byte(n&0x7f|0x80))
		n >>= 7
	}
}

// compileMessage serializes a legacy message: fee payer first, then
// writable signers, readonly signers, writable non-signers, readonly
// non-signers, followed by the compiled instructions.
func compileMessage(feePayer string, recentBlockhash string, ins []instruction) ([]byte, error) {
	type slot struct {
		signer   bool
		writable bool
	}
	slots := map[string]*slot{feePayer: {signer: true, writable: true}}
	order := []string{feePayer}

	note := func(m accountMeta) {
		s, ok := slots[m.pubkey]
		if !ok {
			s = &slot{}
			slots[m.pubkey] = s
			order = append(order, m.pubkey)
		}
		s.signer = s.signer || m.signer
		s.writable = s.writable || m.writable
	}
	for _, in := range ins {
		for _, m := range in.accounts {
			note(m)
		}
		note(accountMeta{pubkey: in.programID})
	}

	var keys []string
	for _, class := range []func(*slot) bool{
		func(s *slot) bool { return s.signer && s.writable },
		func(s *slot) bool { return s.signer && !s.writable },
		func(s *slot) bool { return !s.signer && s.writable },
		func(s *slot) bool { return !s.signer && !s.writable },
	} {
		for _, k := range order {
			if class(slots[k]) {
				keys = append(keys, k)
			}
		}
	}

	index := make(map[string]byte, len(keys))
	numSigners, roSigned, roUnsigned := 0, 0, 0
	for i, k := range keys {
		index[k] = byte(i)
		s := slots[k]
		if s.signer {
			numSigners++
			if !s.writable {
				roSigned++
			}
		} else if !s.writable {
			roUnsigned++
		}
	}

	blockhash, err := decodePubkey(recentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("chain: blockhash %q: %w", recentBlockhash, err)
	}

	buf := []byte{byte(numSigners), byte(roSigned), byte(roUnsigned)}
	buf = shortvec(buf, len(keys))
	for _, k := range keys {
		pk, err := decodePubkey(k)
		if err != nil {
			return nil, fmt.Errorf("chain: account %q: %w", k, err)
		}
		buf = append(buf, pk[:]...)
	}
	buf = append(buf, blockhash[:]...)
	buf = shortvec(buf, len(ins))
	for _, in := range ins {
		buf = append(buf, index[in.programID])
		buf = shortvec(buf, len(in.accounts))
		for _, m := range in.accounts {
			buf = append(buf, index[m.pubkey])
		}
		buf = shortvec(buf, len(in.data))
		buf = append(buf, in.data...)
	}
	return buf, nil
}

// signAndSerialize signs the message with the single fee-payer key and
// returns (base64 wire transaction, base58 signature).
func signAndSerialize(kp *Keypair, message []byte) (string, string) {
	sig := ed25519.Sign(kp.priv, message)
	buf := shortvec(nil, 1)
	buf = append(buf, sig...)
	buf = append(buf, message...)
	return base64.StdEncoding.EncodeToString(buf), base58Encode(sig)
}
