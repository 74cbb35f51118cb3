// Package meta defines the concrete metadata type the repository seam uses
// to instantiate node.Node and to carry the convergence policy tag
// (spec §3, "Content metadata").
package meta

// DefaultPolicy is the convergence policy used when metadata carries no
// explicit policy_type, or when none is available yet (import leniency,
// spec §4.3.3).
const DefaultPolicy = "lww"

// Metadata is opaque application metadata plus the policy tag that
// auto-merge uses to pick a MergePolicy by name.
type Metadata struct {
	PolicyType string `cbor:"policy_type"`
}

// New returns Metadata tagged with policy, defaulting to DefaultPolicy when
// policy is empty.
func New(policy string) Metadata {
	if policy == "" {
		policy = DefaultPolicy
	}
	return Metadata{PolicyType: policy}
}

// Policy returns m's policy tag, defaulting to DefaultPolicy when unset.
func (m Metadata) Policy() string {
	if m.PolicyType == "" {
		return DefaultPolicy
	}
	return m.PolicyType
}
