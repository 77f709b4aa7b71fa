// Package entities holds the shared domain types of the certification
// pipeline: signer identities, stake snapshots, protocol parameters,
// signed-entity types, protocol messages, open messages, single
// signatures and certificates. Canonical encoding and domain-tagged
// hashing live here so every component hashes the same bytes the same
// way.
package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stakecert/aggregator/pkg/epoch"
)

// Package-level sentinel errors, following the teacher's
// pkg/database/errors.go convention of one sentinel per failure mode.
var (
	ErrUnknownDiscriminant = errors.New("unknown signed-entity discriminant")
	ErrEmptyProtocolMessage = errors.New("protocol message has no parts")
)

// SignerIdentity is an opaque, stable-across-epochs party identifier.
type SignerIdentity string

// StakeDistribution maps a signer identity to its stake weight for one
// epoch. Exactly one snapshot exists per epoch and it is immutable once
// sealed.
type StakeDistribution map[SignerIdentity]uint64

// TotalStake sums every signer's stake in the distribution.
func (d StakeDistribution) TotalStake() uint64 {
	var total uint64
	for _, stake := range d {
		total += stake
	}
	return total
}

// VerificationKey is an opaque public key plus an optional
// proof-of-possession signature, registered at most once per
// (signer, epoch).
type VerificationKey struct {
	SignerID            SignerIdentity
	Epoch               epoch.Epoch
	PublicKeyBytes      []byte
	ProofOfPossession   []byte
}

// ProtocolParameters are the three values fixed once per epoch that
// govern the lottery and quorum rule.
type ProtocolParameters struct {
	K    uint64  // quorum threshold, in stake units
	M    uint64  // committee size
	PhiF float64 // phi parameter, in (0, 1]
}

// Validate checks the protocol parameters are within their documented
// domain.
func (p ProtocolParameters) Validate() error {
	if p.M == 0 {
		return errors.New("protocol parameters: m must be positive")
	}
	if p.PhiF <= 0 || p.PhiF > 1 {
		return errors.New("protocol parameters: phi_f must be in (0, 1]")
	}
	return nil
}

// SignedEntityDiscriminant is the tag alone, without a beacon. It is
// the key used for cross-epoch signature buffering.
type SignedEntityDiscriminant string

const (
	DiscriminantMithrilStakeDistribution  SignedEntityDiscriminant = "MithrilStakeDistribution"
	DiscriminantCardanoImmutableFilesFull SignedEntityDiscriminant = "CardanoImmutableFilesFull"
	DiscriminantCardanoStakeDistribution  SignedEntityDiscriminant = "CardanoStakeDistribution"
	DiscriminantCardanoTransactions       SignedEntityDiscriminant = "CardanoTransactions"
	DiscriminantCardanoDatabase           SignedEntityDiscriminant = "CardanoDatabase"
)

var validDiscriminants = map[SignedEntityDiscriminant]bool{
	DiscriminantMithrilStakeDistribution:  true,
	DiscriminantCardanoImmutableFilesFull: true,
	DiscriminantCardanoStakeDistribution:  true,
	DiscriminantCardanoTransactions:       true,
	DiscriminantCardanoDatabase:           true,
}

// Beacon anchors a signed entity in blockchain time: an epoch plus,
// depending on discriminant, an immutable-file number or block number.
type Beacon struct {
	Epoch               epoch.Epoch
	ImmutableFileNumber uint64
	BlockNumber         uint64
}

// SignedEntityType is a tagged variant carrying its beacon.
type SignedEntityType struct {
	Discriminant SignedEntityDiscriminant
	Beacon       Beacon
}

// Key returns a stable string identifying this exact (discriminant,
// beacon) instance — the key an Open Message is indexed by.
func (t SignedEntityType) Key() string {
	return fmt.Sprintf("%s/%d/%d/%d", t.Discriminant, t.Beacon.Epoch, t.Beacon.ImmutableFileNumber, t.Beacon.BlockNumber)
}

func (t SignedEntityType) Validate() error {
	if !validDiscriminants[t.Discriminant] {
		return fmt.Errorf("%w: %q", ErrUnknownDiscriminant, t.Discriminant)
	}
	return nil
}

// ProtocolMessage is the unordered mapping from a fixed set of keys to
// opaque string values that signers sign. Canonical encoding
// concatenates key||value pairs in fixed enumeration order, then
// hashes the result with a domain tag.
type ProtocolMessage map[string]string

// Standard protocol message part keys, per spec.md §3.
const (
	PartNextAggregateVK         = "next_aggregate_vk"
	PartNextProtocolParameters  = "next_protocol_parameters"
	PartSnapshotDigest          = "snapshot_digest"
	PartNetwork                 = "network"
	PartLatestBlockNumber       = "latest_block_number"
)

// canonicalKeyOrder is the fixed enumeration order canonical encoding
// iterates in, regardless of map insertion order.
var canonicalKeyOrder = []string{
	PartNextAggregateVK,
	PartNextProtocolParameters,
	PartSnapshotDigest,
	PartNetwork,
	PartLatestBlockNumber,
}

// Canonical returns the canonical byte encoding: keys in fixed
// enumeration order (any keys outside that set follow, sorted), each
// as key||value, concatenated.
func (m ProtocolMessage) Canonical() ([]byte, error) {
	if len(m) == 0 {
		return nil, ErrEmptyProtocolMessage
	}

	seen := make(map[string]bool, len(canonicalKeyOrder))
	var buf strings.Builder

	for _, key := range canonicalKeyOrder {
		if value, ok := m[key]; ok {
			buf.WriteString(key)
			buf.WriteString(value)
			seen[key] = true
		}
	}

	var extra []string
	for key := range m {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		buf.WriteString(key)
		buf.WriteString(m[key])
	}

	return []byte(buf.String()), nil
}

// DomainHash computes the domain-tagged Keccak256 hash of the
// message's canonical encoding.
func (m ProtocolMessage) DomainHash(domain string) ([32]byte, error) {
	canonical, err := m.Canonical()
	if err != nil {
		return [32]byte{}, err
	}
	return DomainTaggedHash(domain, canonical), nil
}

// DomainTaggedHash hashes domain||data with Keccak256. Every
// domain-separated hash in the system (protocol messages, certificates)
// goes through this one function.
func DomainTaggedHash(domain string, data ...[]byte) [32]byte {
	parts := make([][]byte, 0, len(data)+1)
	parts = append(parts, []byte(domain))
	parts = append(parts, data...)
	return crypto.Keccak256Hash(parts...)
}

// OpenMessage is the aggregator-side mutable record collecting partial
// signatures for one signed-entity instance.
type OpenMessage struct {
	SignedEntityType SignedEntityType
	ProtocolMessage  ProtocolMessage
	CreatedAt        int64 // unix seconds
	IsCertified      bool
	IsExpired        bool
	Signatures       []SingleSignature // ordered by arrival, de-duplicated by signer id
}

// SingleSignature is one signer's partial signature, carrying the
// lottery indices it won.
type SingleSignature struct {
	SignerID        SignerIdentity
	RegistrationEpoch epoch.Epoch
	Indices         []uint64 // sorted, non-empty, each < m
	Signature       []byte
	WonIndexesCount uint64
	CreatedAt       int64
}

// Validate checks the structural invariants of a single signature
// (non-empty sorted indices); lottery and cryptographic verification
// happen in pkg/multisig, which has the protocol parameters and keys.
func (s SingleSignature) Validate() error {
	if len(s.Indices) == 0 {
		return errors.New("single signature: indices must be non-empty")
	}
	for i := 1; i < len(s.Indices); i++ {
		if s.Indices[i] <= s.Indices[i-1] {
			return errors.New("single signature: indices must be sorted and distinct")
		}
	}
	return nil
}

// CertificateMetadata carries the non-cryptographic bookkeeping of a
// certificate: protocol version/parameters, the window it covers, and
// the signers active at that epoch with their stakes.
type CertificateMetadata struct {
	ProtocolVersion    string
	ProtocolParameters ProtocolParameters
	InitiatedAt        int64
	SealedAt           int64
	Signers            []SignerWithStake
}

// SignerWithStake pairs a signer's identity and verification key with
// the stake it carried at the relevant epoch.
type SignerWithStake struct {
	SignerID        SignerIdentity
	VerificationKey []byte
	Stake           uint64
}

// Certificate is the sealed, chainable unit: protocol message,
// multi-signature, aggregate verification key for the *next* epoch,
// and a pointer to its parent.
type Certificate struct {
	Hash             string
	PreviousHash     string
	Epoch            epoch.Epoch
	SignedEntityType SignedEntityType
	ProtocolMessage  ProtocolMessage
	Metadata         CertificateMetadata
	MultiSignature   []byte
	AggregateVerificationKey []byte
}

// canonicalFields serializes every field except Hash itself, in a
// fixed field order, as the input to the certificate's domain-tagged
// hash.
func (c Certificate) canonicalFields() ([]byte, error) {
	type wire struct {
		PreviousHash     string
		Epoch            epoch.Epoch
		SignedEntityType SignedEntityType
		ProtocolMessage  ProtocolMessage
		Metadata         CertificateMetadata
		MultiSignature   []byte
		AggregateVerificationKey []byte
	}
	return json.Marshal(wire{
		PreviousHash:             c.PreviousHash,
		Epoch:                    c.Epoch,
		SignedEntityType:         c.SignedEntityType,
		ProtocolMessage:          c.ProtocolMessage,
		Metadata:                 c.Metadata,
		MultiSignature:           c.MultiSignature,
		AggregateVerificationKey: c.AggregateVerificationKey,
	})
}

// ComputeHash derives the certificate's hash from every other field,
// per spec.md §3. The caller is responsible for assigning the result
// to c.Hash before persisting.
func (c Certificate) ComputeHash(domain string) (string, error) {
	fields, err := c.canonicalFields()
	if err != nil {
		return "", fmt.Errorf("encode certificate fields: %w", err)
	}
	hash := DomainTaggedHash(domain, fields)
	return fmt.Sprintf("%x", hash), nil
}
