package meta

import "testing"

func TestNewDefaultsEmptyPolicy(t *testing.T) {
	m := New("")
	if m.Policy() != DefaultPolicy {
		t.Fatalf("Policy() = %q, want %q", m.Policy(), DefaultPolicy)
	}
}

func TestNewKeepsExplicitPolicy(t *testing.T) {
	m := New("custom")
	if m.Policy() != "custom" {
		t.Fatalf("Policy() = %q, want %q", m.Policy(), "custom")
	}
}

func TestPolicyDefaultsUnsetMetadata(t *testing.T) {
	var m Metadata
	if m.Policy() != DefaultPolicy {
		t.Fatalf("Policy() on zero-value Metadata = %q, want %q", m.Policy(), DefaultPolicy)
	}
}
