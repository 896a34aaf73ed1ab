package jwx

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// ParseCompact parses a compact JWS without verifying its signature, so
// callers can inspect the header (e.g. `typ`, `kid`) before selecting keys.
func ParseCompact(compact string) (*jose.JSONWebSignature, error) {
	jws, err := jose.ParseSigned(compact, DefaultAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("jwx: parse compact JWS: %w", err)
	}
	return jws, nil
}

// VerifyCompact parses compact and verifies it against the supplied
// candidate keys, trying each in turn (spec.md §4.3 step 3: "any key whose
// kid matches, or every sig-capable key if no kid is given"). It returns the
// verified payload and the key that verified it.
func VerifyCompact(compact string, keys []jose.JSONWebKey) (payload []byte, verifiedBy *jose.JSONWebKey, err error) {
	jws, err := ParseCompact(compact)
	if err != nil {
		return nil, nil, err
	}
	if len(jws.Signatures) == 0 {
		return nil, nil, fmt.Errorf("jwx: JWS carries no signatures")
	}

	candidates := keys
	if len(jws.Signatures) == 1 {
		candidates = VerifyKeysFor(keys, jws.Signatures[0])
	}
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("jwx: no candidate key matches JWS header")
	}

	for i := range candidates {
		k := candidates[i]
		out, vErr := jws.Verify(&k)
		if vErr == nil {
			return out, &k, nil
		}
	}
	return nil, nil, fmt.Errorf("jwx: signature verification failed against %d candidate key(s)", len(candidates))
}

// UnverifiedPayload returns the payload of a compact JWS without checking
// its signature. Used only to inspect claims (e.g. a leaf's embedded `jwks`,
// or an authority's `iss`) before the key material needed to verify it is
// available — callers must not trust the result until VerifyCompact (or an
// equivalent check) succeeds against it.
func UnverifiedPayload(compact string) ([]byte, error) {
	jws, err := ParseCompact(compact)
	if err != nil {
		return nil, err
	}
	return jws.UnsafePayloadWithoutVerification(), nil
}

// HeaderType returns the `typ` header of a parsed JWS, or "" if absent.
func HeaderType(jws *jose.JSONWebSignature) string {
	if len(jws.Signatures) == 0 {
		return ""
	}
	typ, _ := jws.Signatures[0].Header.ExtraHeaders[jose.HeaderKey("typ")].(string)
	return typ
}
