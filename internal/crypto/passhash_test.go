package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestPINHash_Verify(t *testing.T) {
	t.Parallel()

	h, err := NewPINHash("4711")
	if err != nil {
		t.Fatalf("NewPINHash: %v", err)
	}
	if !h.Verify("4711") {
		t.Fatalf("correct pin rejected")
	}
	for _, bad := range []string{"4712", "", "47111"} {
		if h.Verify(bad) {
			t.Fatalf("pin %q accepted", bad)
		}
	}

	other, err := NewPINHash("4711")
	if err != nil {
		t.Fatalf("NewPINHash(2): %v", err)
	}
	if bytes.Equal(h.Sum, other.Sum) {
		t.Fatalf("same pin under fresh salts produced equal digests")
	}
}

func TestPINHash_Zero(t *testing.T) {
	t.Parallel()

	var h PINHash
	if !h.IsZero() || h.Verify("") || h.Verify("1234") {
		t.Fatalf("zero hash must match nothing")
	}
	if _, err := NewPINHash(""); !errors.Is(err, ErrEmptyPIN) {
		t.Fatalf("empty pin: %v", err)
	}
}
