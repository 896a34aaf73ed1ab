// Package resolver implements the resolver endpoint of spec.md §4.6: it
// wires the collector, verifier, policy engine, and trust-mark verifier
// together and signs the composite result as a resolve-response+jwt.
// Grounded on fedservice's entity/server/resolve.py.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/SUNET/fed-trust/pkg/collector"
	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/message"
	"github.com/SUNET/fed-trust/pkg/policy"
	"github.com/SUNET/fed-trust/pkg/statement"
	"github.com/SUNET/fed-trust/pkg/trustmark"
	"github.com/SUNET/fed-trust/pkg/verifier"
)

// Resolver answers resolve requests by running the full discover/verify/
// apply-policy/verify-marks/sign pipeline, per spec.md §2's data-flow
// description.
type Resolver struct {
	issuer        string
	signingKey    jwx.SigningKey
	lifetime      time.Duration
	anchors       map[string]*message.JWKSet
	trPriority    []string
	collector     *collector.Collector
	verifier      *verifier.Verifier
	markVerifier  *trustmark.Verifier
	logger        logging.Logger
}

// Config configures a Resolver.
type Config struct {
	Issuer       string // this resolver's own entity_id, used as resolve-response iss
	SigningKey   jwx.SigningKey
	Lifetime     time.Duration // 0 => statement.DefaultLifetime
	Anchors      map[string]*message.JWKSet
	TrPriority   []string
	Collector    *collector.Collector
	Verifier     *verifier.Verifier
	MarkVerifier *trustmark.Verifier
	Logger       logging.Logger
}

// New constructs a Resolver from Config.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	return &Resolver{
		issuer:       cfg.Issuer,
		signingKey:   cfg.SigningKey,
		lifetime:     cfg.Lifetime,
		anchors:      cfg.Anchors,
		trPriority:   cfg.TrPriority,
		collector:    cfg.Collector,
		verifier:     cfg.Verifier,
		markVerifier: cfg.MarkVerifier,
		logger:       cfg.Logger,
	}
}

// Resolve answers req per spec.md §4.6: discover candidate chains to req's
// subject, verify them, select one per the chain-selection rule, apply
// metadata policy, and verify any trust marks on the leaf. The returned
// response is unsigned; SignResponse signs it. An empty result (not an error) means no verified chain was
// found for the requested anchor, per spec.md §7 "resolve for a specific
// anchor that produced no chain ⇒ empty response".
func (r *Resolver) Resolve(ctx context.Context, req message.ResolveRequest) (*message.ResolveResponse, error) {
	if req.Subject == "" {
		return nil, ferrors.New(ferrors.MissingRequiredAttribute, "", "sub")
	}
	if req.TrustAnchor == "" {
		return nil, ferrors.New(ferrors.MissingRequiredAttribute, req.Subject, "trust_anchor")
	}
	if _, recognized := r.anchors[req.TrustAnchor]; !recognized {
		return nil, ferrors.New(ferrors.UnrecognizedTrustAnchor, req.TrustAnchor, "requested trust_anchor is not recognized")
	}

	candidateChains, _, _ := r.collector.GetChains(ctx, req.Subject, r.anchors)
	verifiedChains := r.verifier.VerifyChains(candidateChains, r.anchors)
	if len(verifiedChains) == 0 {
		r.logger.Info("resolver: no verified chain found", logging.F("sub", req.Subject), logging.F("trust_anchor", req.TrustAnchor))
		return nil, nil
	}

	chosen := selectChain(verifiedChains, req.TrustAnchor, r.trPriority)
	if chosen == nil {
		return nil, nil
	}

	combined, err := policy.Combine(chosen.VerifiedChain[:len(chosen.VerifiedChain)-1])
	if err != nil {
		return nil, err
	}
	leaf := chosen.LeafStatement()
	effectiveMetadata, err := policy.Apply(combined, leaf.Metadata)
	if err != nil {
		return nil, err
	}
	if req.Type != "" {
		filtered := message.Metadata{}
		if typeMetadata, ok := effectiveMetadata[req.Type]; ok {
			filtered[req.Type] = typeMetadata
		}
		effectiveMetadata = filtered
	}

	var resolvedMarks []message.ResolvedTrustMark
	if r.markVerifier != nil {
		anchorConfig := chosen.VerifiedChain[0]
		for _, embedded := range leaf.TrustMarks {
			result, err := r.markVerifier.VerifyMark(ctx, embedded.TrustMark, anchorConfig, trustmark.VerifyOptions{})
			if err != nil {
				r.logger.Debug("resolver: trust mark rejected", logging.F("trust_mark_id", embedded.TrustMarkID), logging.F("error", err.Error()))
				continue
			}
			resolvedMarks = append(resolvedMarks, message.ResolvedTrustMark{
				TrustMarkType: result.Mark.TrustMarkID,
				TrustMark:     embedded.TrustMark,
			})
		}
	}

	now := time.Now()
	lifetime := r.lifetime
	if lifetime <= 0 {
		lifetime = statement.DefaultLifetime
	}
	response := &message.ResolveResponse{
		Issuer:     r.issuer,
		Subject:    req.Subject,
		IssuedAt:   now.Unix(),
		Expires:    now.Add(lifetime).Unix(),
		Metadata:   effectiveMetadata,
		TrustChain: chosen.RawChain,
		TrustMarks: resolvedMarks,
	}
	return response, nil
}

// SignResponse signs resp as a resolve-response+jwt, per spec.md §4.6.
func (r *Resolver) SignResponse(resp *message.ResolveResponse) (string, error) {
	if r.signingKey.Key == nil {
		return "", fmt.Errorf("resolver: no signing key configured")
	}
	return jwx.SignCompact(resp, r.signingKey, message.ResolveResponseHeaderType)
}

// selectChain implements spec.md §4.6's chain-selection rule: among the
// verified chains that reach the requested trust_anchor, prefer the one
// whose anchor is first in trPriority, else any of them. A chain verified
// against a different, also-recognized anchor never satisfies a request for
// this one: per spec.md §7 the caller receives empty results, never a
// partial trust, so chains not reaching requestedAnchor are never eligible.
func selectChain(chains []*message.TrustChain, requestedAnchor string, trPriority []string) *message.TrustChain {
	var candidates []*message.TrustChain
	for _, c := range chains {
		if c.Anchor == requestedAnchor {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	for _, preferred := range trPriority {
		for _, c := range candidates {
			if c.Anchor == preferred {
				return c
			}
		}
	}
	return candidates[0]
}
