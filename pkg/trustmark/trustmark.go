// Package trustmark implements the trust-mark verifier of spec.md §4.5:
// the six ordered, abort-on-first-failure steps that validate a trust mark
// against an anchor's recognized issuers and owners, including delegation
// and an optional issuer status check. Grounded on fedservice's
// entity/function/trust_mark_verifier.py.
package trustmark

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/httpfetch"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/message"
)

// ChainFinder locates a verified trust chain from entityID ending at
// anchorID, as already produced by the collector+verifier pipeline (spec.md
// §4.5 step 4: "obtain a verified trust chain for the mark's iss ending at
// trust_anchor"). The trust-mark verifier does not perform discovery
// itself; it asks its caller (normally a resolver sharing the same
// FederationContext) for a chain it already holds or can produce.
type ChainFinder func(ctx context.Context, entityID, anchorID string) *message.TrustChain

// Verifier validates trust marks per spec.md §4.5.
type Verifier struct {
	keyJar      *jwx.KeyJar
	fetcher     httpfetch.Fetcher
	findChain   ChainFinder
	logger      logging.Logger
}

// New constructs a Verifier. keyJar is typically shared with the chain
// verifier so keys installed while building the mark's own trust chain are
// reusable for the mark's signature (spec.md §4.5 step 5).
func New(keyJar *jwx.KeyJar, fetcher httpfetch.Fetcher, findChain ChainFinder, logger logging.Logger) *Verifier {
	if keyJar == nil {
		keyJar = jwx.NewKeyJar()
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Verifier{keyJar: keyJar, fetcher: fetcher, findChain: findChain, logger: logger}
}

// VerifyOptions controls the optional status-check step. StatusEndpoint is
// the issuer's federation_trust_mark_status_endpoint, normally read from
// the issuer's entity configuration metadata by the caller.
type VerifyOptions struct {
	CheckStatus    bool
	StatusEndpoint string
}

// VerifiedMark is the result of a successful VerifyMark call.
type VerifiedMark struct {
	Mark       *message.TrustMark
	Chain      *message.TrustChain
	Delegator  *message.TrustMarkDelegation
	StatusOK   bool // only meaningful if VerifyOptions.CheckStatus was set
}

// VerifyMark runs the six ordered steps of spec.md §4.5 against compactMark,
// anchored at anchorConfig (the trust anchor's own, already-verified entity
// configuration, carrying trust_mark_issuers / trust_mark_owners). Any
// failure returns (nil, err); per spec.md §7 "the trust-mark verifier
// returns None on any non-fatal failure" — callers treat a non-nil error
// here as "mark rejected", not as a propagated fault.
func (v *Verifier) VerifyMark(ctx context.Context, compactMark string, anchorConfig *message.EntityStatement, opts VerifyOptions) (*VerifiedMark, error) {
	// Step 1: parse + structurally validate.
	payload, err := jwx.UnverifiedPayload(compactMark)
	if err != nil {
		return nil, fmt.Errorf("trustmark: parse: %w", err)
	}
	var mark message.TrustMark
	if err := json.Unmarshal(payload, &mark); err != nil {
		return nil, fmt.Errorf("trustmark: decode: %w", err)
	}

	var decodedDelegation *message.TrustMarkDelegation
	decodeDelegation := func(compact string) (*message.TrustMarkDelegation, error) {
		p, err := jwx.UnverifiedPayload(compact)
		if err != nil {
			return nil, err
		}
		var d message.TrustMarkDelegation
		if err := json.Unmarshal(p, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}
	if err := mark.Validate(time.Now(), "", decodeDelegation); err != nil {
		return nil, err
	}
	decodedDelegation = mark.Delegator()

	// Step 2: the anchor must recognize this trust_mark_id, and (if its
	// issuer allowlist is non-empty) the mark's iss must be in it.
	allowedIssuers, known := anchorConfig.TrustMarkIssuers[mark.TrustMarkID]
	if !known {
		return nil, ferrors.New(ferrors.UnrecognizedTrustAnchor, mark.Subject, "trust_mark_id not recognized by anchor")
	}
	if len(allowedIssuers) > 0 && !containsString(allowedIssuers, mark.Issuer) {
		return nil, ferrors.New(ferrors.UnrecognizedTrustAnchor, mark.Subject, "trust mark issuer not in anchor's recognized list")
	}

	// Step 3: delegation cross-checks against trust_mark_owners, and
	// signature verification of the delegation itself.
	if mark.Delegation != "" {
		owner, ok := anchorConfig.TrustMarkOwners[mark.TrustMarkID]
		if !ok {
			return nil, ferrors.New(ferrors.UnrecognizedTrustAnchor, mark.Subject, "trust_mark_id has no registered owner for delegation")
		}
		if decodedDelegation.Issuer != owner.Sub {
			return nil, ferrors.New(ferrors.MalformedStatement, mark.Subject, "delegation iss does not match owner sub")
		}
		if decodedDelegation.TrustMarkID != mark.TrustMarkID {
			return nil, ferrors.New(ferrors.MalformedStatement, mark.Subject, "delegation trust_mark_id mismatch")
		}
		if decodedDelegation.Subject != mark.Issuer {
			return nil, ferrors.New(ferrors.MalformedStatement, mark.Subject, "delegation sub does not match mark iss")
		}
		ownerKeys, err := decodeJWKS(owner.JWKS)
		if err != nil {
			return nil, err
		}
		if _, _, err := jwx.VerifyCompact(mark.Delegation, ownerKeys); err != nil {
			return nil, ferrors.New(ferrors.SignatureInvalid, mark.Subject, "delegation signature invalid")
		}
	}

	// Step 4: obtain a verified chain for the mark's issuer ending at this
	// anchor.
	if v.findChain == nil {
		return nil, fmt.Errorf("trustmark: no chain finder configured")
	}
	chain := v.findChain(ctx, mark.Issuer, anchorConfig.Issuer)
	if chain == nil {
		return nil, ferrors.New(ferrors.UnrecognizedTrustAnchor, mark.Issuer, "no verified trust chain to anchor for mark issuer")
	}

	// Step 5: verify the mark's own signature, installing keys from the
	// chain's leaf (the issuer's own jwks) if the jar doesn't already carry
	// a usable key.
	keys := v.keyJar.KeysFor(mark.Issuer)
	if len(keys) == 0 {
		leaf := chain.LeafStatement()
		if leaf != nil && leaf.JWKS != nil {
			if err := v.keyJar.Install(mark.Issuer, leaf.JWKS); err != nil {
				return nil, err
			}
			keys = v.keyJar.KeysFor(mark.Issuer)
		}
	}
	if len(keys) == 0 {
		return nil, ferrors.New(ferrors.MissingKey, mark.Issuer, "no key reachable to verify trust mark signature")
	}
	if _, _, err := jwx.VerifyCompact(compactMark, keys); err != nil {
		return nil, ferrors.New(ferrors.SignatureInvalid, mark.Subject, "trust mark signature invalid")
	}

	result := &VerifiedMark{Mark: &mark, Chain: chain, Delegator: decodedDelegation}

	// Step 6: optional issuer status check.
	if opts.CheckStatus {
		if opts.StatusEndpoint == "" {
			return nil, fmt.Errorf("trustmark: status check requested but no status endpoint given")
		}
		active, err := v.CheckStatusAt(ctx, opts.StatusEndpoint, compactMark)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, ferrors.New(ferrors.ConstraintViolation, mark.Subject, "trust mark status endpoint reports inactive")
		}
		result.StatusOK = true
	}

	return result, nil
}

// CheckStatusAt POSTs compactMark to the issuer's status endpoint and
// reports whether the response's `active` field is true, per spec.md §4.5
// step 6 / §6 "GET|POST federation_trust_mark_status_endpoint".
func (v *Verifier) CheckStatusAt(ctx context.Context, statusEndpoint string, compactMark string) (bool, error) {
	if v.fetcher == nil {
		return false, fmt.Errorf("trustmark: no fetcher configured for status check")
	}
	body, err := json.Marshal(map[string]string{"trust_mark": compactMark})
	if err != nil {
		return false, err
	}
	resp, err := v.fetcher.Post(ctx, statusEndpoint, "application/json", body)
	if err != nil {
		return false, err
	}
	var status struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(resp, &status); err != nil {
		return false, fmt.Errorf("trustmark: decode status response: %w", err)
	}
	return status.Active, nil
}

func decodeJWKS(set *message.JWKSet) ([]jose.JSONWebKey, error) {
	if set == nil {
		return nil, fmt.Errorf("trustmark: owner jwks missing")
	}
	out := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, raw := range set.Keys {
		var k jose.JSONWebKey
		if err := json.Unmarshal(raw, &k); err != nil {
			return nil, fmt.Errorf("trustmark: decode jwk: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
