package facematch

import (
	"errors"
	"testing"

	"github.com/kozaktomas/face-auth/internal/apperr"
)

func TestMatcher_Verify(t *testing.T) {
	m := NewMatcher(0.85)
	enrolled := testDescriptor(DefaultDescriptorLength, 1.1)
	other := testDescriptor(DefaultDescriptorLength, 2.9)

	t.Run("identical accepted", func(t *testing.T) {
		result, err := m.Verify("id-1", enrolled, []Descriptor{enrolled})
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if !result.Accepted || result.Score != 1.0 || result.IdentityID != "id-1" {
			t.Errorf("unexpected result %+v", result)
		}
		if result.Reason != ReasonAccepted {
			t.Errorf("reason = %s, want %s", result.Reason, ReasonAccepted)
		}
	})

	t.Run("different rejected", func(t *testing.T) {
		result, err := m.Verify("id-1", other, []Descriptor{enrolled})
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if result.Accepted {
			t.Errorf("expected rejection, got score %v", result.Score)
		}
		if result.IdentityID != "" {
			t.Errorf("rejected result should not carry identity, got %q", result.IdentityID)
		}
		if result.Reason != ReasonBelowThreshold {
			t.Errorf("reason = %s, want %s", result.Reason, ReasonBelowThreshold)
		}
	})

	t.Run("best of N", func(t *testing.T) {
		result, err := m.Verify("id-1", enrolled, []Descriptor{other, enrolled, other})
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if !result.Accepted || result.Score != 1.0 {
			t.Errorf("expected best-of-N acceptance, got %+v", result)
		}
	})

	t.Run("empty set", func(t *testing.T) {
		result, err := m.Verify("id-1", enrolled, nil)
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if result.Accepted || result.Reason != ReasonNotEnrolled {
			t.Errorf("expected not_enrolled rejection, got %+v", result)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := m.Verify("id-1", enrolled[:10], []Descriptor{enrolled})
		if !errors.Is(err, apperr.ErrInvalidDescriptor) {
			t.Errorf("expected ErrInvalidDescriptor, got %v", err)
		}
	})
}

func TestMatcher_ThresholdBoundary(t *testing.T) {
	a := Descriptor{1, 0}
	b := Descriptor{0, 1} // orthogonal: score 0.5
	m := NewMatcher(0.5)
	result, err := m.Verify("id", a, []Descriptor{b})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !result.Accepted {
		t.Errorf("score equal to threshold must be accepted, got %+v", result)
	}
	if NewMatcher(0).Threshold() != DefaultThreshold {
		t.Error("expected default threshold for non-positive input")
	}
}

func TestMatcher_Identify(t *testing.T) {
	m := NewMatcher(0.85)
	alice := testDescriptor(DefaultDescriptorLength, 0.7)
	bob := testDescriptor(DefaultDescriptorLength, 2.3)

	enrolled := map[string][]Descriptor{
		"alice": {alice},
		"bob":   {testDescriptor(DefaultDescriptorLength, 4.1), bob},
		"carol": {},
	}

	result, err := m.Identify(bob, enrolled)
	if err != nil {
		t.Fatalf("Identify() error: %v", err)
	}
	if !result.Accepted || result.IdentityID != "bob" {
		t.Errorf("expected bob, got %+v", result)
	}

	t.Run("tie resolves to smallest id", func(t *testing.T) {
		tied := map[string][]Descriptor{"zed": {alice}, "amy": {alice}}
		result, err := m.Identify(alice, tied)
		if err != nil {
			t.Fatalf("Identify() error: %v", err)
		}
		if result.IdentityID != "amy" {
			t.Errorf("expected amy, got %q", result.IdentityID)
		}
	})

	t.Run("empty set", func(t *testing.T) {
		result, err := m.Identify(alice, map[string][]Descriptor{"carol": nil})
		if err != nil {
			t.Fatalf("Identify() error: %v", err)
		}
		if result.Reason != ReasonNotEnrolled {
			t.Errorf("expected not_enrolled, got %s", result.Reason)
		}
	})
}
