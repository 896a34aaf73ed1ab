// Package statement is the entity-statement factory of spec.md §4.1: it
// assembles entity configurations, subordinate statements, trust marks, and
// trust mark delegations and signs them into compact JWS tokens via
// pkg/jwx. Grounded on fedservice's entity_statement/create.py.
package statement

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/message"
)

// DefaultLifetime is the default signature lifetime, per spec.md §4.1.
const DefaultLifetime = 86400 * time.Second

// DefaultSigningAlgorithm is the factory default when none is configured.
const DefaultSigningAlgorithm = jose.RS256

// AuthorityHints accepts either a static list or a callable yielding one, as
// spec.md §4.1 and §9 describe ("static list or callable").
type AuthorityHints interface {
	Resolve() []string
}

// StaticAuthorityHints is a fixed authority_hints list.
type StaticAuthorityHints []string

func (s StaticAuthorityHints) Resolve() []string { return []string(s) }

// FuncAuthorityHints defers to a callback, e.g. one backed by discovery of
// the entity's currently advertised superiors.
type FuncAuthorityHints func() []string

func (f FuncAuthorityHints) Resolve() []string { return f() }

// EntityConfigurationInput is the input to CreateEntityConfiguration.
type EntityConfigurationInput struct {
	Issuer           string
	SigningKey       jwx.SigningKey
	PublicJWKS       *message.JWKSet // embedded unless SuppressJWKS is set
	SuppressJWKS     bool
	Metadata         map[string]map[string]any
	AuthorityHints   AuthorityHints
	TrustMarks       []message.EmbeddedTrustMark
	TrustMarkIssuers map[string][]string
	TrustMarkOwners  map[string]message.TrustMarkOwner
	TrustChain       []string
	Lifetime         time.Duration // 0 => DefaultLifetime
	Now              time.Time     // zero => time.Now()
}

func (in *EntityConfigurationInput) lifetime() time.Duration {
	if in.Lifetime <= 0 {
		return DefaultLifetime
	}
	return in.Lifetime
}

func (in *EntityConfigurationInput) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// CreateEntityConfiguration assembles and signs a self-signed entity
// configuration (iss == sub), per spec.md §4.1. The issuer's public JWKS is
// always embedded unless SuppressJWKS is set.
func CreateEntityConfiguration(in EntityConfigurationInput) (string, error) {
	if in.Issuer == "" {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, "", "iss")
	}
	if in.SigningKey.Key == nil {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "signing key")
	}

	now := in.now()
	stmt := message.EntityStatement{
		Issuer:           in.Issuer,
		Subject:          in.Issuer,
		IssuedAt:         now.Unix(),
		Expires:          now.Add(in.lifetime()).Unix(),
		Metadata:         in.Metadata,
		TrustMarks:       in.TrustMarks,
		TrustMarkIssuers: in.TrustMarkIssuers,
		TrustMarkOwners:  in.TrustMarkOwners,
		JTI:              uuid.NewString(),
	}
	if in.AuthorityHints != nil {
		stmt.AuthorityHints = in.AuthorityHints.Resolve()
	}
	if !in.SuppressJWKS {
		if in.PublicJWKS == nil {
			return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "jwks")
		}
		stmt.JWKS = in.PublicJWKS
	}

	return jwx.SignCompact(stmt, in.SigningKey, message.EntityStatementHeaderType)
}

// SubordinateStatementInput is the input to CreateSubordinateStatement.
type SubordinateStatementInput struct {
	Issuer         string // the superior
	Subject        string // the subordinate entity
	SigningKey     jwx.SigningKey
	SubjectJWKS    *message.JWKSet // the subject's advertised keys, embedded so the next signature can be verified without a second lookup
	Metadata       map[string]map[string]any
	MetadataPolicy message.MetadataPolicy
	Constraints    *message.Constraints
	Crit           []string
	PolicyLanguageCrit []string
	Lifetime       time.Duration
	Now            time.Time
}

func (in *SubordinateStatementInput) lifetime() time.Duration {
	if in.Lifetime <= 0 {
		return DefaultLifetime
	}
	return in.Lifetime
}

func (in *SubordinateStatementInput) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// CreateSubordinateStatement assembles and signs a statement issued by a
// superior (Issuer) about a subordinate (Subject), per spec.md §4.1. The
// subject's JWKS is required: it provides the signing key(s) for the
// subject's own next statement.
func CreateSubordinateStatement(in SubordinateStatementInput) (string, error) {
	if in.Issuer == "" {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, "", "iss")
	}
	if in.Subject == "" {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "sub")
	}
	if in.Issuer == in.Subject {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "subordinate statement requires iss != sub")
	}
	if in.SubjectJWKS == nil || len(in.SubjectJWKS.Keys) == 0 {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Subject, "jwks")
	}
	if in.SigningKey.Key == nil {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "signing key")
	}

	now := in.now()
	stmt := message.EntityStatement{
		Issuer:             in.Issuer,
		Subject:            in.Subject,
		IssuedAt:           now.Unix(),
		Expires:            now.Add(in.lifetime()).Unix(),
		JWKS:               in.SubjectJWKS,
		Metadata:           in.Metadata,
		MetadataPolicy:     in.MetadataPolicy,
		Constraints:        in.Constraints,
		Crit:               in.Crit,
		PolicyLanguageCrit: in.PolicyLanguageCrit,
		JTI:                uuid.NewString(),
	}

	return jwx.SignCompact(stmt, in.SigningKey, message.EntityStatementHeaderType)
}

// TrustMarkInput is the input to CreateTrustMark.
type TrustMarkInput struct {
	Issuer      string
	Subject     string
	TrustMarkID string
	SigningKey  jwx.SigningKey
	LogoURI     string
	Ref         string
	Delegation  string // compact JWS produced by CreateTrustMarkDelegation, if any
	Lifetime    time.Duration // 0 => no expiry
	Now         time.Time
}

// CreateTrustMark produces a signed trust mark, per spec.md §3/§4.1.
func CreateTrustMark(in TrustMarkInput) (string, error) {
	if in.Issuer == "" || in.Subject == "" || in.TrustMarkID == "" {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Subject, "trust mark iss/sub/trust_mark_id")
	}
	if in.SigningKey.Key == nil {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "signing key")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	mark := message.TrustMark{
		Issuer:      in.Issuer,
		Subject:     in.Subject,
		IssuedAt:    now.Unix(),
		TrustMarkID: in.TrustMarkID,
		LogoURI:     in.LogoURI,
		Ref:         in.Ref,
		Delegation:  in.Delegation,
	}
	if in.Lifetime > 0 {
		mark.Expires = now.Add(in.Lifetime).Unix()
	}

	return jwx.SignCompact(mark, in.SigningKey, message.TrustMarkHeaderType)
}

// TrustMarkDelegationInput is the input to CreateTrustMarkDelegation.
type TrustMarkDelegationInput struct {
	Issuer      string // the mark type's owner
	Subject     string // the delegated issuer (equals the trust mark's iss)
	TrustMarkID string
	SigningKey  jwx.SigningKey
	Ref         string
	Lifetime    time.Duration
	Now         time.Time
}

// CreateTrustMarkDelegation produces a compact JWS delegating authority to
// issue marks of TrustMarkID to Subject, signed by the owner (Issuer). Per
// spec.md §3 "delegation (a nested compact JWS signed by the owner of the
// mark type)".
func CreateTrustMarkDelegation(in TrustMarkDelegationInput) (string, error) {
	if in.Issuer == "" || in.Subject == "" || in.TrustMarkID == "" {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Subject, "delegation iss/sub/trust_mark_id")
	}
	if in.SigningKey.Key == nil {
		return "", ferrors.New(ferrors.MissingRequiredAttribute, in.Issuer, "signing key")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	delegation := message.TrustMarkDelegation{
		Issuer:      in.Issuer,
		Subject:     in.Subject,
		TrustMarkID: in.TrustMarkID,
		IssuedAt:    now.Unix(),
		Ref:         in.Ref,
	}
	if in.Lifetime > 0 {
		delegation.Expires = now.Add(in.Lifetime).Unix()
	}

	return jwx.SignCompact(delegation, in.SigningKey, message.TrustMarkDelegationHeaderType)
}
