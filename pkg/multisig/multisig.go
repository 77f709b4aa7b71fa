// Package multisig holds the aggregation context for one epoch: it
// derives the stake-weighted aggregate verification key, verifies
// single signatures against the lottery rule, and aggregates a set of
// single signatures into a multi-signature once quorum is reached.
package multisig

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/stakecert/aggregator/pkg/crypto/bls"
	"github.com/stakecert/aggregator/pkg/entities"
)

// Sentinel errors, per spec.md §4.3.
var (
	ErrUnknownSigner   = errors.New("signer not registered at this epoch")
	ErrInvalidLottery  = errors.New("lottery indices do not satisfy the phi inequality")
	ErrInvalidSignature = errors.New("signature does not verify against the registered key")

	// ErrNoQuorumYet is returned by Aggregate when the distinct won
	// indexes across the input signatures have not yet reached k.
	ErrNoQuorumYet = errors.New("quorum not yet reached")

	// ErrAggregationFailed reports an algebraic aggregation failure:
	// every input signature passed individual verification, but
	// combining them failed. This is a bug class, not a retry
	// condition (spec.md §4.3).
	ErrAggregationFailed = errors.New("signature aggregation failed")
)

// EpochContext bundles one epoch's registered keys, stakes and
// protocol parameters — everything compute_aggregate_verification_key,
// verify_single_signature and Aggregate need, as a pure function of
// this snapshot.
type EpochContext struct {
	Params entities.ProtocolParameters
	Stake  entities.StakeDistribution
	Keys   map[entities.SignerIdentity]entities.VerificationKey
}

// ComputeAggregateVerificationKey derives the stake-weighted
// aggregate verification key for the epoch: sum over signers of
// (stake_i * pubkey_i).
func (c EpochContext) ComputeAggregateVerificationKey() ([]byte, error) {
	if len(c.Keys) == 0 {
		return nil, errors.New("no registered keys for this epoch")
	}

	signers := sortedSigners(c.Keys)
	pubKeys := make([]*bls.PublicKey, 0, len(signers))
	weights := make([]uint64, 0, len(signers))

	for _, signerID := range signers {
		vk := c.Keys[signerID]
		pk, err := bls.PublicKeyFromBytes(vk.PublicKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key for signer %s: %w", signerID, err)
		}
		pubKeys = append(pubKeys, pk)
		weights = append(weights, c.Stake[signerID])
	}

	avk, err := bls.AggregatePublicKeysWeighted(pubKeys, weights)
	if err != nil {
		return nil, fmt.Errorf("aggregate verification keys: %w", err)
	}
	return avk.Bytes(), nil
}

func sortedSigners(keys map[entities.SignerIdentity]entities.VerificationKey) []entities.SignerIdentity {
	signers := make([]entities.SignerIdentity, 0, len(keys))
	for signerID := range keys {
		signers = append(signers, signerID)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })
	return signers
}

// VerifySingleSignature checks that every lottery index the signer
// claims satisfies the phi inequality for their stake share, and that
// the raw signature bytes verify against their registered key.
func (c EpochContext) VerifySingleSignature(messageHash [32]byte, sig entities.SingleSignature) error {
	vk, ok := c.Keys[sig.SignerID]
	if !ok {
		return ErrUnknownSigner
	}
	stake, ok := c.Stake[sig.SignerID]
	if !ok || stake == 0 {
		return ErrUnknownSigner
	}

	total := c.Stake.TotalStake()
	if total == 0 {
		return ErrInvalidLottery
	}

	for _, index := range sig.Indices {
		if index >= c.Params.M {
			return ErrInvalidLottery
		}
		if !winsLottery(messageHash, sig.SignerID, index, stake, total, c.Params.PhiF) {
			return ErrInvalidLottery
		}
	}

	pub, err := bls.PublicKeyFromBytes(vk.PublicKeyBytes)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	rawSig, err := bls.SignatureFromBytes(sig.Signature)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if !pub.VerifyWithDomain(rawSig, messageHash[:], bls.DomainSingleSignature) {
		return ErrInvalidSignature
	}

	return nil
}

// phi computes the per-round winning probability for a signer holding
// stakeFraction of total stake, per the Mithril STM lottery rule:
// phi(f) = 1 - (1-phi_f)^f.
func phi(phiF float64, stakeFraction float64) float64 {
	return 1 - math.Pow(1-phiF, stakeFraction)
}

// winsLottery derives a uniform value in [0,1) from the domain-tagged
// hash of (message, signer, index) and checks it against phi(stake
// share). Every verifier computes the same value, so the check is
// reproducible without revealing a separate proof.
func winsLottery(messageHash [32]byte, signerID entities.SignerIdentity, index uint64, stake, totalStake uint64, phiF float64) bool {
	h := entities.DomainTaggedHash(bls.DomainSingleSignature, messageHash[:], []byte(signerID), uint64ToBytes(index))
	uniform := hashToUnitInterval(h)
	stakeFraction := float64(stake) / float64(totalStake)
	return uniform < phi(phiF, stakeFraction)
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}

// hashToUnitInterval maps a 32-byte hash onto [0, 1) by treating its
// first 8 bytes as a big-endian integer over 2^64.
func hashToUnitInterval(h [32]byte) float64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(h[i])
	}
	return float64(v) / float64(math.MaxUint64)
}

// Aggregate sums the distinct won lottery indexes across sigs; if the
// total reaches the epoch's quorum k, it combines the raw signatures
// into a multi-signature. Every signature in sigs must already have
// passed VerifySingleSignature.
func (c EpochContext) Aggregate(sigs []entities.SingleSignature) ([]byte, error) {
	wonIndexes := make(map[uint64]bool)
	for _, sig := range sigs {
		for _, index := range sig.Indices {
			wonIndexes[index] = true
		}
	}
	if uint64(len(wonIndexes)) < c.Params.K {
		return nil, ErrNoQuorumYet
	}

	rawSigs := make([]*bls.Signature, 0, len(sigs))
	for _, sig := range sigs {
		s, err := bls.SignatureFromBytes(sig.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: parse signature for %s: %v", ErrAggregationFailed, sig.SignerID, err)
		}
		rawSigs = append(rawSigs, s)
	}

	aggSig, err := bls.AggregateSignatures(rawSigs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregationFailed, err)
	}

	return aggSig.Bytes(), nil
}
