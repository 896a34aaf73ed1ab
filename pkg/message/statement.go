// Package message holds the typed wire representations of OpenID Federation
// entity statements, trust marks, metadata policies, constraints, and the
// resolver request/response pair, together with the per-type structural
// validation spec.md §3 describes. Signature verification lives in
// pkg/verifier and pkg/trustmark; this package only knows about shapes.
package message

import (
	"encoding/json"
	"time"

	"github.com/SUNET/fed-trust/pkg/ferrors"
)

// JWKSet is the minimal JSON Web Key Set shape carried in entity statements.
// The actual key material and algorithms are handled by pkg/jwx; here it is
// just JSON passed through.
type JWKSet struct {
	Keys []json.RawMessage `json:"keys"`
}

// NamingConstraints accumulates permitted/excluded subject-name suffixes
// along a chain, per spec.md §3 "Constraint state".
type NamingConstraints struct {
	Permitted []string `json:"permitted,omitempty"`
	Excluded  []string `json:"excluded,omitempty"`
}

// Constraints is the `constraints` claim of a subordinate statement.
type Constraints struct {
	MaxPathLength     *int               `json:"max_path_length,omitempty"`
	NamingConstraints *NamingConstraints `json:"naming_constraints,omitempty"`
}

// TrustMarkOwner is one entry of a trust anchor's `trust_mark_owners` map.
type TrustMarkOwner struct {
	Sub  string  `json:"sub"`
	JWKS *JWKSet `json:"jwks"`
}

// EmbeddedTrustMark is one entry of the `trust_marks` list on an entity
// statement: the outer trust_mark_id plus the inner compact-JWS trust mark.
type EmbeddedTrustMark struct {
	TrustMarkID string `json:"trust_mark_id"`
	TrustMark   string `json:"trust_mark"`
}

// EntityStatement is the signed payload shared by entity configurations
// (iss==sub) and subordinate statements (iss!=sub). Per spec.md §3.
type EntityStatement struct {
	Issuer             string                    `json:"iss"`
	Subject            string                    `json:"sub"`
	IssuedAt           int64                     `json:"iat"`
	Expires            int64                     `json:"exp"`
	JWKS               *JWKSet                   `json:"jwks,omitempty"`
	AuthorityHints     []string                  `json:"authority_hints,omitempty"`
	Metadata           map[string]map[string]any `json:"metadata,omitempty"`
	MetadataPolicy     MetadataPolicy            `json:"metadata_policy,omitempty"`
	PolicyLanguageCrit []string                  `json:"policy_language_crit,omitempty"`
	Constraints        *Constraints              `json:"constraints,omitempty"`
	Crit               []string                  `json:"crit,omitempty"`
	TrustMarks         []EmbeddedTrustMark       `json:"trust_marks,omitempty"`
	TrustMarkIssuers   map[string][]string       `json:"trust_mark_issuers,omitempty"`
	TrustMarkOwners    map[string]TrustMarkOwner `json:"trust_mark_owners,omitempty"`
	JTI                string                    `json:"jti,omitempty"`

	// SourceEndpoint records which URL this statement was fetched from, for
	// cache keying (spec.md §3 "cache by subject and by source endpoint").
	// Not part of the signed payload.
	SourceEndpoint string `json:"-"`

	// extensionClaims holds the top-level JSON keys actually present in the
	// decoded payload that aren't among the modeled claims above. Populated
	// by UnmarshalJSON; nil for statements built directly as Go literals.
	extensionClaims []string `json:"-"`
}

// modeledStatementClaims lists every top-level JSON key EntityStatement
// models directly. Any other top-level key in a decoded payload is an
// extension claim for crit-enforcement purposes.
var modeledStatementClaims = map[string]bool{
	"iss":                  true,
	"sub":                  true,
	"iat":                  true,
	"exp":                  true,
	"jwks":                 true,
	"authority_hints":      true,
	"metadata":             true,
	"metadata_policy":      true,
	"policy_language_crit": true,
	"constraints":          true,
	"crit":                 true,
	"trust_marks":          true,
	"trust_mark_issuers":   true,
	"trust_mark_owners":    true,
	"jti":                  true,
}

// entityStatementAlias has the same fields as EntityStatement without its
// UnmarshalJSON method, so decoding into it doesn't recurse.
type entityStatementAlias EntityStatement

// UnmarshalJSON decodes the modeled claims as usual, then takes a second,
// raw pass over the same payload to record which top-level keys are
// actually present. That second pass is what makes checkCrit's "present"
// test real instead of vacuous: a crit entry naming an unmodeled top-level
// key now shows up in extraClaims.
func (s *EntityStatement) UnmarshalJSON(data []byte) error {
	var alias entityStatementAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = EntityStatement(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.extensionClaims = nil
	for key := range raw {
		if !modeledStatementClaims[key] {
			s.extensionClaims = append(s.extensionClaims, key)
		}
	}
	return nil
}

// IsLeaf reports whether this statement is a self-signed entity
// configuration (iss == sub), per spec.md §3.
func (s *EntityStatement) IsLeaf() bool {
	return s.Issuer == s.Subject
}

// KnownExtensions lists crit/policy_language_crit values natively understood
// without being listed in an anchor-specific allowlist. Empty for now: no
// extension claims are defined by this core.
var KnownExtensions = map[string]bool{}

// Validate performs the structural checks spec.md §3 and §4.1 require,
// independent of signature verification.
func (s *EntityStatement) Validate(now time.Time, knownExtensions map[string]bool) error {
	if s.Issuer == "" {
		return ferrors.New(ferrors.MissingRequiredAttribute, s.Subject, "iss")
	}
	if s.Subject == "" {
		return ferrors.New(ferrors.MissingRequiredAttribute, s.Issuer, "sub")
	}
	if s.IssuedAt == 0 {
		return ferrors.New(ferrors.MissingRequiredAttribute, s.Subject, "iat")
	}
	if s.Expires == 0 {
		return ferrors.New(ferrors.MissingRequiredAttribute, s.Subject, "exp")
	}
	if s.IssuedAt > s.Expires {
		return ferrors.New(ferrors.MalformedStatement, s.Subject, "iat > exp")
	}
	if now.Unix() > s.Expires {
		return ferrors.New(ferrors.Expired, s.Subject, "statement has expired")
	}

	if s.IsLeaf() {
		if s.JWKS == nil || len(s.JWKS.Keys) == 0 {
			return ferrors.New(ferrors.MissingRequiredAttribute, s.Subject, "jwks (leaf entity configuration)")
		}
	} else if len(s.MetadataPolicy) > 0 {
		// metadata_policy only applies to non-leaf statements; nothing to
		// reject here structurally (the policy engine enforces semantics),
		// this is just documentation of the invariant from spec.md §3.
		_ = s.MetadataPolicy
	}

	if knownExtensions == nil {
		knownExtensions = KnownExtensions
	}
	if err := checkCrit(s.Crit, s.extraClaims(), knownExtensions); err != nil {
		return err
	}

	if len(s.MetadataPolicy) > 0 && len(s.PolicyLanguageCrit) > 0 {
		if err := s.MetadataPolicy.VerifyCritical(s.PolicyLanguageCrit); err != nil {
			return err
		}
	}

	for _, tm := range s.TrustMarks {
		if tm.TrustMarkID == "" || tm.TrustMark == "" {
			return ferrors.New(ferrors.MissingRequiredAttribute, s.Subject, "trust_marks[].trust_mark_id/trust_mark")
		}
	}

	return nil
}

// extraClaims returns the top-level claims present in the decoded payload
// that fall outside the modeled c_param set, per modeledStatementClaims.
func (s *EntityStatement) extraClaims() []string { return s.extensionClaims }

func checkCrit(crit []string, extra []string, known map[string]bool) error {
	if len(crit) == 0 {
		return nil
	}
	for _, c := range crit {
		present := false
		for _, e := range extra {
			if e == c {
				present = true
				break
			}
		}
		if !present {
			continue
		}
		if !known[c] {
			return ferrors.New(ferrors.UnknownCriticalExtension, "", c)
		}
	}
	return nil
}
