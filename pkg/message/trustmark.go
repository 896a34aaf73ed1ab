package message

import (
	"time"

	"github.com/SUNET/fed-trust/pkg/ferrors"
)

// TrustMarkDelegation is the payload of the nested compact JWS a trust mark
// carries in its `delegation` claim, signed by the mark type's owner.
type TrustMarkDelegation struct {
	Issuer      string `json:"iss"`
	Subject     string `json:"sub"`
	TrustMarkID string `json:"trust_mark_id"`
	IssuedAt    int64  `json:"iat"`
	Expires     int64  `json:"exp,omitempty"`
	Ref         string `json:"ref,omitempty"`
}

// Validate checks the delegation's own structural invariants (spec.md §3).
func (d *TrustMarkDelegation) Validate(now time.Time) error {
	if d.Issuer == "" || d.Subject == "" || d.TrustMarkID == "" || d.IssuedAt == 0 {
		return ferrors.New(ferrors.MissingRequiredAttribute, d.Subject, "delegation iss/sub/trust_mark_id/iat")
	}
	if d.Expires != 0 && now.Unix() > d.Expires {
		return ferrors.New(ferrors.Expired, d.Subject, "delegation has expired")
	}
	return nil
}

// TrustMark is a signed attestation that Subject satisfies TrustMarkID,
// optionally delegated by the mark type's owner. Per spec.md §3.
type TrustMark struct {
	Issuer      string  `json:"iss"`
	Subject     string  `json:"sub"`
	IssuedAt    int64   `json:"iat"`
	TrustMarkID string  `json:"trust_mark_id"`
	Expires     int64   `json:"exp,omitempty"`
	LogoURI     string  `json:"logo_uri,omitempty"`
	Ref         string  `json:"ref,omitempty"`
	Delegation  string  `json:"delegation,omitempty"` // compact JWS of TrustMarkDelegation

	// decodedDelegation is populated by Validate when Delegation is set, so
	// callers don't have to re-decode the JWS payload themselves.
	decodedDelegation *TrustMarkDelegation
}

// Validate checks the required claims, expiry, optional entity_id match,
// and (if present) the delegation's consistency with the mark itself.
// It does not verify any signature.
func (t *TrustMark) Validate(now time.Time, entityID string, decodeDelegation func(compactJWS string) (*TrustMarkDelegation, error)) error {
	if t.Issuer == "" || t.Subject == "" || t.TrustMarkID == "" || t.IssuedAt == 0 {
		return ferrors.New(ferrors.MissingRequiredAttribute, t.Subject, "trust mark iss/sub/trust_mark_id/iat")
	}
	if entityID != "" && entityID != t.Subject {
		return ferrors.New(ferrors.MalformedStatement, t.Subject, "entity_id does not match trust mark sub")
	}
	if t.Expires != 0 && now.Unix() > t.Expires {
		return ferrors.New(ferrors.Expired, t.Subject, "trust mark has expired")
	}
	if t.Delegation != "" {
		if decodeDelegation == nil {
			return ferrors.New(ferrors.MalformedStatement, t.Subject, "delegation present but no decoder supplied")
		}
		delegation, err := decodeDelegation(t.Delegation)
		if err != nil {
			return err
		}
		if err := delegation.Validate(now); err != nil {
			return err
		}
		if delegation.Subject != t.Issuer {
			return ferrors.New(ferrors.MalformedStatement, t.Subject, "delegation sub does not match trust mark iss")
		}
		if delegation.TrustMarkID != t.TrustMarkID {
			return ferrors.New(ferrors.MalformedStatement, t.Subject, "delegation trust_mark_id mismatch")
		}
		t.decodedDelegation = delegation
	}
	return nil
}

// Delegator returns the decoded delegation payload set by a prior call to
// Validate, or nil if this mark carries no delegation.
func (t *TrustMark) Delegator() *TrustMarkDelegation {
	return t.decodedDelegation
}

// TrustChain is the result of verifying an ordered list of compact JWSes
// anchor-to-leaf, per spec.md §3.
type TrustChain struct {
	Anchor        string                     // iss of the first/anchor statement
	IssPath       []string                   // leaf -> anchor, reverse of VerifiedChain order
	Expires       int64                      // min(exp) over VerifiedChain
	VerifiedChain []*EntityStatement         // anchor-first, decoded payloads
	RawChain      []string                   // the original compact JWSes, anchor-first
	Metadata      map[string]map[string]any  // populated after policy application
}

// LeafStatement returns the last (leaf) element of the verified chain.
func (c *TrustChain) LeafStatement() *EntityStatement {
	if len(c.VerifiedChain) == 0 {
		return nil
	}
	return c.VerifiedChain[len(c.VerifiedChain)-1]
}
