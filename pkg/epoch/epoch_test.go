package epoch

import "testing"

func TestRegistrationAndVerification(t *testing.T) {
	e := Epoch(10)

	if got := e.Registration(); got != 11 {
		t.Fatalf("Registration() = %d, want 11", got)
	}

	v, ok := e.Verification()
	if !ok || v != 9 {
		t.Fatalf("Verification() = (%d, %v), want (9, true)", v, ok)
	}
}

func TestVerificationAtGenesis(t *testing.T) {
	e := Epoch(0)
	if _, ok := e.Verification(); ok {
		t.Fatalf("Verification() at epoch 0 should report ok=false")
	}
}

func TestOffset(t *testing.T) {
	cases := []struct {
		expected, observed Epoch
		wantDistance        int64
		wantWithin          bool
	}{
		{10, 10, 0, true},
		{10, 11, 1, true},
		{10, 9, 1, true},
		{10, 13, 3, false},
	}

	for _, c := range cases {
		distance, within := Offset(c.expected, c.observed)
		if distance != c.wantDistance || within != c.wantWithin {
			t.Fatalf("Offset(%d, %d) = (%d, %v), want (%d, %v)",
				c.expected, c.observed, distance, within, c.wantDistance, c.wantWithin)
		}
	}
}
