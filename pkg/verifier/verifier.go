// Package verifier implements the trust-chain verifier of spec.md §4.3: an
// anchor-to-leaf walk over a candidate chain of compact JWS tokens,
// threading keys through a KeyJar, enforcing constraints and crit, and
// producing zero or more verified TrustChain objects. Grounded on
// fedservice's entity/function/verifier.py.
package verifier

import (
	"encoding/json"
	"time"

	"github.com/SUNET/fed-trust/pkg/constraints"
	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/message"
)

// KnownExtensions lists crit/policy_language_crit values this verifier
// natively understands, beyond any the caller supplies.
var KnownExtensions = message.KnownExtensions

// Verifier walks anchor-first candidate chains, verifying signatures and
// constraints per spec.md §4.3. It does not apply metadata_policy (that is
// pkg/policy's job).
type Verifier struct {
	keyJar          *jwx.KeyJar
	logger          logging.Logger
	knownExtensions map[string]bool
}

// New constructs a Verifier with its own KeyJar (or reuses one supplied by
// the caller, e.g. a FederationContext's shared jar).
func New(keyJar *jwx.KeyJar, logger logging.Logger) *Verifier {
	if keyJar == nil {
		keyJar = jwx.NewKeyJar()
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Verifier{keyJar: keyJar, logger: logger, knownExtensions: KnownExtensions}
}

// PinAnchor installs an anchor's pinned JWKS into the keyring under its own
// subject, so step 1 of the walk can verify the anchor statement's
// signature. Anchor keys, once pinned, are never replaced (spec.md §5
// "Avoid replacing pinned anchor keys").
func (v *Verifier) PinAnchor(anchorID string, jwks *message.JWKSet) error {
	return v.keyJar.Install(anchorID, jwks)
}

// VerifyChain verifies one candidate chain: an ordered list of compact JWS
// tokens, anchor-first, leaf-last (spec.md §4.3). anchors maps anchor_id to
// its pinned JWKS (callers normally PinAnchor once at startup; anchors is
// accepted here too so a single Verifier can serve multiple trust-anchor
// sets). Returns nil if the chain fails verification at any step — per-
// branch failures are represented as absence, never an error (spec.md §7).
func (v *Verifier) VerifyChain(chain []string, anchors map[string]*message.JWKSet) *message.TrustChain {
	if len(chain) == 0 {
		return nil
	}

	anchorPayload, err := jwx.UnverifiedPayload(chain[0])
	if err != nil {
		return nil
	}
	var anchorPeek message.EntityStatement
	if err := json.Unmarshal(anchorPayload, &anchorPeek); err != nil {
		return nil
	}
	anchorJWKS, recognized := anchors[anchorPeek.Issuer]
	if !recognized {
		v.logger.Debug("verifier: chain's first statement is not issued by a recognized anchor", logging.F("iss", anchorPeek.Issuer))
		return nil
	}
	if err := v.keyJar.Install(anchorPeek.Issuer, anchorJWKS); err != nil {
		return nil
	}

	verified := make([]*message.EntityStatement, 0, len(chain))
	for i, compact := range chain {
		keys := v.keyJar.KeysFor(payloadIssuerOf(compact, anchorPeek.Issuer, verified))
		if len(keys) == 0 {
			v.logger.Debug("verifier: no keys installed for signer", logging.F("position", i))
			return nil
		}

		payload, _, err := jwx.VerifyCompact(compact, keys)
		if err != nil {
			v.logger.Debug("verifier: signature invalid", logging.F("position", i), logging.F("error", err.Error()))
			return nil
		}

		var stmt message.EntityStatement
		if err := json.Unmarshal(payload, &stmt); err != nil {
			return nil
		}

		isLeaf := i == len(chain)-1
		if err := v.validateStatement(&stmt, isLeaf); err != nil {
			v.logger.Debug("verifier: statement rejected", logging.F("position", i), logging.F("error", err.Error()))
			return nil
		}

		if !isLeaf {
			if stmt.JWKS == nil || len(stmt.JWKS.Keys) == 0 {
				v.logger.Debug("verifier: non-leaf statement missing jwks", logging.F("position", i))
				return nil
			}
			if err := v.keyJar.Install(stmt.Subject, stmt.JWKS); err != nil {
				return nil
			}
		}

		verified = append(verified, &stmt)
	}

	if err := constraints.MeetsRestrictions(verified); err != nil {
		v.logger.Debug("verifier: constraints violated", logging.F("error", err.Error()))
		return nil
	}

	return buildTrustChain(chain, verified)
}

// payloadIssuerOf determines whose keys should verify chain[i]: the
// anchor's own keys for the first element, otherwise the subject installed
// by the previous element (its iss == previous statement's sub, since each
// non-leaf statement's jwks is keyed by its own subject in the jar).
func payloadIssuerOf(compact string, anchorIssuer string, verifiedSoFar []*message.EntityStatement) string {
	if len(verifiedSoFar) == 0 {
		return anchorIssuer
	}
	payload, err := jwx.UnverifiedPayload(compact)
	if err != nil {
		return ""
	}
	var peek struct {
		Issuer string `json:"iss"`
	}
	_ = json.Unmarshal(payload, &peek)
	return peek.Issuer
}

func (v *Verifier) validateStatement(stmt *message.EntityStatement, isLeaf bool) error {
	if err := stmt.Validate(time.Now(), v.knownExtensions); err != nil {
		return err
	}
	if isLeaf != stmt.IsLeaf() {
		// A chain's positions must line up with iss==sub exactly at the
		// leaf; anywhere else iss must differ from sub.
		return ferrors.New(ferrors.MalformedStatement, stmt.Subject, "statement position does not match leaf/subordinate shape")
	}
	return nil
}

func buildTrustChain(raw []string, verified []*message.EntityStatement) *message.TrustChain {
	issPath := make([]string, len(verified))
	minExp := verified[0].Expires
	for i, stmt := range verified {
		issPath[len(verified)-1-i] = stmt.Issuer
		if stmt.Expires < minExp {
			minExp = stmt.Expires
		}
	}
	// the leaf's own iss (==sub) belongs at iss_path[0]; the loop above
	// already places it there since verified is anchor-first.
	return &message.TrustChain{
		Anchor:        verified[0].Issuer,
		IssPath:       issPath,
		Expires:       minExp,
		VerifiedChain: verified,
		RawChain:      raw,
	}
}

// VerifyChains verifies every candidate chain and returns only the ones
// that pass (spec.md §4.3 "produce zero or more verified TrustChain
// objects").
func (v *Verifier) VerifyChains(chains [][]string, anchors map[string]*message.JWKSet) []*message.TrustChain {
	out := make([]*message.TrustChain, 0, len(chains))
	for _, chain := range chains {
		if tc := v.VerifyChain(chain, anchors); tc != nil {
			out = append(out, tc)
		}
	}
	return out
}

// KeyJar exposes the verifier's keyring, e.g. so the trust-mark verifier
// (spec.md §4.5 step 5's "install keys from the verified chain if needed")
// can share it.
func (v *Verifier) KeyJar() *jwx.KeyJar { return v.keyJar }
