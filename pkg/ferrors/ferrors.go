// Package ferrors defines the small typed error enum used for fatal
// misconfigurations in the federation core. Per-branch failures during
// chain collection and verification are represented as absence (nil/empty
// slice), never as an error of this kind — see the collector and verifier
// packages.
package ferrors

import "fmt"

// Kind classifies a fatal federation error.
type Kind int

const (
	// MissingRequiredAttribute is returned by the entity-statement factory
	// and message validators when a required claim is absent.
	MissingRequiredAttribute Kind = iota
	// MissingKey is returned when no verification key matches a JWS header.
	MissingKey
	// Expired is returned when a statement or mark has a past exp.
	Expired
	// UnknownCriticalExtension is returned when a crit/policy_language_crit
	// entry names something the implementation does not understand.
	UnknownCriticalExtension
	// ConstraintViolation is returned when max_path_length or naming
	// constraints are violated.
	ConstraintViolation
	// MalformedStatement covers undecodable base64url, bad JWS structure,
	// and other local format errors.
	MalformedStatement
	// SignatureInvalid covers a JWS whose signature does not verify.
	SignatureInvalid
	// UnrecognizedTrustAnchor is returned when a resolve request names an
	// anchor outside the configured set, and when a trust mark's type,
	// issuer, owner, or issuer chain is not recognized by the anchor.
	UnrecognizedTrustAnchor
)

func (k Kind) String() string {
	switch k {
	case MissingRequiredAttribute:
		return "MissingRequiredAttribute"
	case MissingKey:
		return "MissingKey"
	case Expired:
		return "Expired"
	case UnknownCriticalExtension:
		return "UnknownCriticalExtension"
	case ConstraintViolation:
		return "ConstraintViolation"
	case MalformedStatement:
		return "MalformedStatement"
	case SignatureInvalid:
		return "SignatureInvalid"
	case UnrecognizedTrustAnchor:
		return "UnrecognizedTrustAnchor"
	default:
		return "Unknown"
	}
}

// FederationError is the single error type raised for fatal, non-branch
// failures: build-time failures in the entity-statement factory, and
// anchor-locked operations that name an anchor with no chain.
type FederationError struct {
	Kind    Kind
	Subject string // the entity_id/sub the error concerns, when known
	Detail  string
}

func (e *FederationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New constructs a FederationError.
func New(kind Kind, subject, detail string) *FederationError {
	return &FederationError{Kind: kind, Subject: subject, Detail: detail}
}

// Is supports errors.Is by comparing Kind, so callers can do
// errors.Is(err, ferrors.New(ferrors.Expired, "", "")).
func (e *FederationError) Is(target error) bool {
	t, ok := target.(*FederationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
