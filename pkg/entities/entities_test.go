package entities

import "testing"

func TestProtocolMessageCanonicalIsOrderIndependent(t *testing.T) {
	a := ProtocolMessage{
		PartNetwork:        "mainnet",
		PartNextAggregateVK: "AVK-1",
	}
	b := ProtocolMessage{
		PartNextAggregateVK: "AVK-1",
		PartNetwork:        "mainnet",
	}

	canonA, err := a.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	canonB, err := b.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if string(canonA) != string(canonB) {
		t.Fatalf("canonical encoding should not depend on map insertion order: %q != %q", canonA, canonB)
	}
}

func TestProtocolMessageCanonicalEmpty(t *testing.T) {
	m := ProtocolMessage{}
	if _, err := m.Canonical(); err != ErrEmptyProtocolMessage {
		t.Fatalf("Canonical() on empty message: got err %v, want ErrEmptyProtocolMessage", err)
	}
}

func TestDomainHashChangesWithDomain(t *testing.T) {
	m := ProtocolMessage{PartNetwork: "mainnet"}

	h1, err := m.DomainHash("domain-a")
	if err != nil {
		t.Fatalf("DomainHash() error = %v", err)
	}
	h2, err := m.DomainHash("domain-b")
	if err != nil {
		t.Fatalf("DomainHash() error = %v", err)
	}
	if h1 == h2 {
		t.Fatalf("DomainHash() should differ across domains")
	}
}

func TestSingleSignatureValidate(t *testing.T) {
	valid := SingleSignature{Indices: []uint64{0, 1, 3}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on sorted distinct indices: got %v, want nil", err)
	}

	empty := SingleSignature{}
	if err := empty.Validate(); err == nil {
		t.Fatalf("Validate() on empty indices should fail")
	}

	unsorted := SingleSignature{Indices: []uint64{1, 0}}
	if err := unsorted.Validate(); err == nil {
		t.Fatalf("Validate() on unsorted indices should fail")
	}

	duplicate := SingleSignature{Indices: []uint64{1, 1}}
	if err := duplicate.Validate(); err == nil {
		t.Fatalf("Validate() on duplicate indices should fail")
	}
}

func TestSignedEntityTypeValidate(t *testing.T) {
	valid := SignedEntityType{Discriminant: DiscriminantCardanoTransactions}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on known discriminant: got %v, want nil", err)
	}

	unknown := SignedEntityType{Discriminant: "NotARealType"}
	if err := unknown.Validate(); err == nil {
		t.Fatalf("Validate() on unknown discriminant should fail")
	}
}

func TestCertificateComputeHashDeterministic(t *testing.T) {
	c := Certificate{
		PreviousHash: "",
		Epoch:        2,
		ProtocolMessage: ProtocolMessage{
			PartNetwork: "mainnet",
		},
	}

	h1, err := c.ComputeHash("certificate-v1")
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	h2, err := c.ComputeHash("certificate-v1")
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	if h1 != h2 {
		t.Fatalf("ComputeHash() should be deterministic: %q != %q", h1, h2)
	}

	c.PreviousHash = "changed"
	h3, err := c.ComputeHash("certificate-v1")
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	if h1 == h3 {
		t.Fatalf("ComputeHash() should change when a field changes")
	}
}
