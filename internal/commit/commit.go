// Package commit implements the commit-reveal primitives behind every
// settlement: server secret generation, outcome derivation, and the
// batch pity guarantee.
//
// An outcome is a pure function of (secret, deposit tx signature, sample
// index). The secret's SHA-256 hash is published before the player's
// deposit transaction exists, and the tx signature is only known after
// the player signs — so neither party can choose inputs to bias the
// result. Publishing the secret after resolution lets any observer
// recompute every roll:
//
//	roll_i = SHA-256(secret ∥ txSig ∥ i)[0] mod 100
//
// All derivation operates on the hex-encoded secret string, which is
// what gets published, stored, and fed to third-party verifiers.
package commit

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cccasino/bankroll-engine/internal/model"
	"github.com/cccasino/bankroll-engine/internal/tiers"
)

// SecretBytes is the entropy of a server secret.
const SecretBytes = 32

// pitySalt is appended to the entropy inputs when deriving the forced
// pity tier, keeping the pity draw independent of every sample roll.
const pitySalt = "pity"

// NewSecret draws a fresh 256-bit secret from the CSPRNG and returns
// (secretHex, commitmentHashHex). The hash is safe to publish
// immediately; the secret stays private until resolution.
func NewSecret() (secretHex, hashHex string, err error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("commit: read entropy: %w", err)
	}
	secretHex = hex.EncodeToString(buf)
	return secretHex, HashSecret(secretHex), nil
}

// HashSecret returns the hex SHA-256 of the hex-encoded secret string.
func HashSecret(secretHex string) string {
	sum := sha256.Sum256([]byte(secretHex))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitmentHash checks the published hash against a revealed
// secret in constant time. Any third party can run this check.
func VerifyCommitmentHash(secretHex, hashHex string) bool {
	want := HashSecret(secretHex)
	return subtle.ConstantTimeCompare([]byte(want), []byte(hashHex)) == 1
}

// Roll derives the roll for one sample: first byte of
// SHA-256(secret ∥ txSig ∥ decimal index), mod 100.
func Roll(secretHex, txSig string, index int) int {
	sum := sha256.Sum256([]byte(secretHex + txSig + strconv.Itoa(index)))
	return int(sum[0]) % tiers.RollSpace
}

// PityTier picks the forced tier for an all-floor maximum batch,
// deterministically from SHA-256(secret ∥ txSig ∥ "pity") over the
// above-floor tiers. A single-tier table has nothing above the floor,
// so the floor itself comes back and no sample gets rewritten.
func PityTier(table tiers.Table, secretHex, txSig string) tiers.Tier {
	above := table.AboveFloor()
	if len(above) == 0 {
		return table.Floor()
	}
	sum := sha256.Sum256([]byte(secretHex + txSig + pitySalt))
	return above[int(sum[0])%len(above)]
}

// ResolveSamples computes every sample outcome for a commitment and the
// total payout. Pure and deterministic: calling it twice with the same
// inputs yields byte-identical results.
//
// Pity rule: when sampleCount equals maxSamples and no independent roll
// landed above the floor tier, the last sample is forced to the pity
// tier and its payout recomputed, so every maximum-size batch yields at
// least one above-floor result.
func ResolveSamples(table tiers.Table, secretHex, txSig string, stakePerSample uint64, sampleCount, maxSamples int) ([]model.SampleResult, uint64, error) {
	results := make([]model.SampleResult, 0, sampleCount)
	aboveFloor := false
	floor := table.Floor()

	var total uint64
	for i := 0; i < sampleCount; i++ {
		roll := Roll(secretHex, txSig, i)
		tier, err := table.Lookup(roll)
		if err != nil {
			return nil, 0, fmt.Errorf("commit: sample %d: %w", i, err)
		}
		payout := tiers.Payout(stakePerSample, tier.MultiplierBps)
		results = append(results, model.SampleResult{
			Index:         i,
			Roll:          roll,
			Tier:          tier.Name,
			MultiplierBps: tier.MultiplierBps,
			Payout:        payout,
		})
		total += payout
		if tier.Name != floor.Name {
			aboveFloor = true
		}
	}

	if sampleCount == maxSamples && !aboveFloor && len(table.AboveFloor()) > 0 {
		pity := PityTier(table, secretHex, txSig)
		last := &results[sampleCount-1]
		total -= last.Payout
		last.Tier = pity.Name
		last.MultiplierBps = pity.MultiplierBps
		last.Payout = tiers.Payout(stakePerSample, pity.MultiplierBps)
		last.Pity = true
		total += last.Payout
	}

	return results, total, nil
}
