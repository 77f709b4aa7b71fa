package registerer

import (
	"testing"

	"github.com/stakecert/aggregator/pkg/crypto/bls"
	"github.com/stakecert/aggregator/pkg/entities"
)

func TestVerifyProofOfPossession(t *testing.T) {
	if err := bls.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	pubBytes := pk.Bytes()
	pop := sk.SignWithDomain(pubBytes, bls.DomainProofOfPossession)

	vk := entities.VerificationKey{
		PublicKeyBytes:    pubBytes,
		ProofOfPossession: pop.Bytes(),
	}
	if !verifyProofOfPossession(vk) {
		t.Fatalf("verifyProofOfPossession() = false, want true for a correctly signed proof")
	}

	tampered := vk
	tampered.ProofOfPossession = append([]byte{}, pop.Bytes()...)
	tampered.ProofOfPossession[0] ^= 0xff
	if verifyProofOfPossession(tampered) {
		t.Fatalf("verifyProofOfPossession() = true, want false for a tampered proof")
	}
}

func TestVerifyProofOfPossessionEmpty(t *testing.T) {
	vk := entities.VerificationKey{PublicKeyBytes: []byte("not-a-real-key")}
	if verifyProofOfPossession(vk) {
		t.Fatalf("verifyProofOfPossession() with no proof should be false")
	}
}
