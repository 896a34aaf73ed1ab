// Package collector implements the trust-chain collector of spec.md §4.2:
// forward discovery from a leaf entity to a recognized trust anchor over
// the fetch/configuration endpoints of federation peers, with a
// subject-keyed cache and concurrent per-branch fan-out. Grounded on
// fedservice's collect_trust_chains (entity/__init__.py) and the discovery
// algorithm spelled out in spec.md §4.2 itself (the filtered original_source
// does not carry the collector module verbatim).
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TwiN/gocache/v2"
	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/errgroup"

	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/httpfetch"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/message"
)

// WellKnownPath is the discovery path spec.md §6 names.
const WellKnownPath = "/.well-known/openid-federation"

// MaxFetchConcurrency bounds how many sibling authority_hints branches fan
// out concurrently per collection call (spec.md §5 "multiple requests run
// in parallel at the host").
const MaxFetchConcurrency = 8

// MaxDepth caps recursion so a misbehaving federation graph cannot recurse
// forever; combined with the per-branch visited set (spec.md §9) this is a
// backstop, not the primary cycle defense.
const MaxDepth = 20

// cachedConfig is what the collector caches per subject: the verified
// statement plus the raw compact JWS it was parsed from, so a raw chain can
// be reassembled later without re-fetching (spec.md §3 "Cache entries are
// immutable once stored ... by subject and source endpoint").
type cachedConfig struct {
	statement *message.EntityStatement
	raw       string
}

// Collector discovers and caches entity configurations and subordinate
// statements while walking authority_hints toward a recognized trust
// anchor. Safe for concurrent use; callers share one Collector per
// FederationContext (spec.md §5 "a per-entity FederationContext holds ...
// caches").
type Collector struct {
	fetcher httpfetch.Fetcher
	cache   *gocache.Cache
	logger  logging.Logger
}

// New constructs a Collector around fetcher, with an empty statement cache
// bounded to 100,000 entries. A nil logger selects the default logger.
func New(fetcher httpfetch.Fetcher, logger logging.Logger) *Collector {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Collector{
		fetcher: fetcher,
		cache:   gocache.NewCache().WithMaxSize(100_000),
		logger:  logger,
	}
}

func entityConfigCacheKey(entityID string) string {
	return "ec:" + entityID
}

func subordinateCacheKey(fetchEndpoint, subject string) string {
	return "sub:" + fetchEndpoint + ":" + subject
}

func ttlFor(stmt *message.EntityStatement, now time.Time) time.Duration {
	ttl := time.Unix(stmt.Expires, 0).Sub(now)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

// GetEntityConfiguration fetches entityID's self-signed entity
// configuration, verifies it against a key in its own embedded jwks, and
// caches it by subject (spec.md §4.2 step 1). A non-nil error here always
// means "could not establish a verified configuration" — collector callers
// treat that as an abandoned branch, not a propagated error.
func (c *Collector) GetEntityConfiguration(ctx context.Context, entityID string) (*message.EntityStatement, string, error) {
	if cached, ok := c.cache.Get(entityConfigCacheKey(entityID)); ok {
		cc := cached.(cachedConfig)
		return cc.statement, cc.raw, nil
	}

	discoveryURL := strings.TrimRight(entityID, "/") + WellKnownPath
	body, err := c.fetcher.Get(ctx, discoveryURL)
	if err != nil {
		return nil, "", err
	}
	compact := strings.TrimSpace(string(body))

	unsafePayload, err := jwx.UnverifiedPayload(compact)
	if err != nil {
		return nil, "", err
	}
	var candidate message.EntityStatement
	if err := json.Unmarshal(unsafePayload, &candidate); err != nil {
		return nil, "", fmt.Errorf("collector: decode entity configuration for %s: %w", entityID, err)
	}
	if !candidate.IsLeaf() {
		return nil, "", ferrors.New(ferrors.MalformedStatement, entityID, "entity configuration must be self-signed (iss==sub)")
	}
	if candidate.JWKS == nil || len(candidate.JWKS.Keys) == 0 {
		return nil, "", ferrors.New(ferrors.MissingRequiredAttribute, entityID, "entity configuration missing jwks")
	}

	keys, err := decodeJWKS(candidate.JWKS)
	if err != nil {
		return nil, "", err
	}
	verifiedPayload, _, err := jwx.VerifyCompact(compact, keys)
	if err != nil {
		return nil, "", ferrors.New(ferrors.SignatureInvalid, entityID, "entity configuration does not verify against its own jwks")
	}

	var verified message.EntityStatement
	if err := json.Unmarshal(verifiedPayload, &verified); err != nil {
		return nil, "", fmt.Errorf("collector: decode verified entity configuration for %s: %w", entityID, err)
	}
	verified.SourceEndpoint = discoveryURL

	now := time.Now()
	if err := verified.Validate(now, nil); err != nil {
		return nil, "", err
	}

	c.cache.SetWithTTL(entityConfigCacheKey(entityID), cachedConfig{statement: &verified, raw: compact}, ttlFor(&verified, now))
	return &verified, compact, nil
}

func decodeJWKS(set *message.JWKSet) ([]jose.JSONWebKey, error) {
	out := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, raw := range set.Keys {
		var k jose.JSONWebKey
		if err := json.Unmarshal(raw, &k); err != nil {
			return nil, fmt.Errorf("collector: decode jwk: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

// fetchSubordinateStatement calls a superior's federation_fetch_endpoint
// for sub, per spec.md §4.2 step 2b / §6. The response is cached by
// (endpoint, subject) but not verified here — verification happens later,
// in pkg/verifier, once the full chain is assembled.
func (c *Collector) fetchSubordinateStatement(ctx context.Context, fetchEndpoint, subject string) (string, error) {
	if cached, ok := c.cache.Get(subordinateCacheKey(fetchEndpoint, subject)); ok {
		return cached.(string), nil
	}

	u, err := url.Parse(fetchEndpoint)
	if err != nil {
		return "", fmt.Errorf("collector: invalid fetch endpoint %q: %w", fetchEndpoint, err)
	}
	q := u.Query()
	q.Set("sub", subject)
	u.RawQuery = q.Encode()

	body, err := c.fetcher.Get(ctx, u.String())
	if err != nil {
		return "", err
	}
	compact := strings.TrimSpace(string(body))

	// Cache TTL uses the statement's own exp when decodable; fall back to a
	// short default otherwise so a malformed response isn't pinned forever.
	ttl := time.Minute
	if payload, err := jwx.UnverifiedPayload(compact); err == nil {
		var peek message.EntityStatement
		if json.Unmarshal(payload, &peek) == nil && peek.Expires > 0 {
			ttl = ttlFor(&peek, time.Now())
		}
	}
	c.cache.SetWithTTL(subordinateCacheKey(fetchEndpoint, subject), compact, ttl)
	return compact, nil
}

func federationFetchEndpoint(stmt *message.EntityStatement) string {
	fe, ok := stmt.Metadata["federation_entity"]
	if !ok {
		return ""
	}
	ep, _ := fe["federation_fetch_endpoint"].(string)
	return ep
}

// GetChains discovers every chain of entity statements linking leafEntityID
// to a recognized trust anchor, per spec.md §4.2. Chains are returned
// anchor-first (reconciling §4.2's "leaf-first to anchor-last" framing of
// the walk with §4.3's anchor-first verifier contract: the walk is
// performed leaf-to-anchor and reversed before being handed to the
// verifier). No chain reaching an anchor yields an empty slice, never an
// error (spec.md §4.2/§7).
func (c *Collector) GetChains(ctx context.Context, leafEntityID string, anchors map[string]*message.JWKSet) ([][]string, *message.EntityStatement, string) {
	leafStmt, leafRaw, err := c.GetEntityConfiguration(ctx, leafEntityID)
	if err != nil || leafStmt == nil {
		c.logger.Warn("collector: leaf entity configuration unavailable", logging.F("entity_id", leafEntityID), logging.F("error", errString(err)))
		return nil, nil, ""
	}

	if _, isAnchor := anchors[leafStmt.Issuer]; isAnchor {
		return [][]string{{leafRaw}}, leafStmt, leafRaw
	}

	visited := map[string]bool{leafEntityID: true}
	leafFirstChains := c.walk(ctx, leafEntityID, leafStmt.AuthorityHints, []string{leafRaw}, visited, anchors, 1)

	chains := make([][]string, 0, len(leafFirstChains))
	for _, chain := range leafFirstChains {
		chains = append(chains, reverseStrings(chain))
	}
	return chains, leafStmt, leafRaw
}

// walk performs one level of spec.md §4.2's recursion: for each of
// currentEntity's authority_hints, fetch the authority's configuration,
// call its fetch endpoint for currentEntity, and either terminate (if the
// authority is a recognized anchor) or recurse using the authority's own
// authority_hints. Returned chains are leaf-first (reversed by the caller).
func (c *Collector) walk(ctx context.Context, currentEntity string, authorityHints []string, chainPrefix []string, visited map[string]bool, anchors map[string]*message.JWKSet, depth int) [][]string {
	if depth > MaxDepth || len(authorityHints) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		out [][]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxFetchConcurrency)

	for _, authorityID := range authorityHints {
		if visited[authorityID] {
			continue // cycle: silently abandon this branch, per spec.md §9
		}
		branchVisited := maps.Clone(visited)
		branchVisited[authorityID] = true

		g.Go(func() error {
			chains := c.walkOneAuthority(gctx, authorityID, currentEntity, chainPrefix, branchVisited, anchors, depth)
			if len(chains) > 0 {
				mu.Lock()
				out = append(out, chains...)
				mu.Unlock()
			}
			return nil // per-branch failures never abort sibling branches
		})
	}
	_ = g.Wait()
	return out
}

func (c *Collector) walkOneAuthority(ctx context.Context, authorityID, currentEntity string, chainPrefix []string, visited map[string]bool, anchors map[string]*message.JWKSet, depth int) [][]string {
	authorityStmt, _, err := c.GetEntityConfiguration(ctx, authorityID)
	if err != nil || authorityStmt == nil {
		c.logger.Debug("collector: authority unreachable or invalid, abandoning branch", logging.F("authority_id", authorityID), logging.F("error", errString(err)))
		return nil
	}

	fetchEndpoint := federationFetchEndpoint(authorityStmt)
	if fetchEndpoint == "" {
		c.logger.Debug("collector: authority has no federation_fetch_endpoint, abandoning branch", logging.F("authority_id", authorityID))
		return nil
	}

	subordinateRaw, err := c.fetchSubordinateStatement(ctx, fetchEndpoint, currentEntity)
	if err != nil {
		c.logger.Debug("collector: fetch endpoint unavailable, abandoning branch", logging.F("authority_id", authorityID), logging.F("error", err.Error()))
		return nil
	}

	payload, err := jwx.UnverifiedPayload(subordinateRaw)
	if err != nil {
		return nil
	}
	var subordinate message.EntityStatement
	if err := json.Unmarshal(payload, &subordinate); err != nil {
		return nil
	}

	chain := append(append([]string{}, chainPrefix...), subordinateRaw)

	if _, isAnchor := anchors[subordinate.Issuer]; isAnchor {
		return [][]string{chain}
	}

	return c.walk(ctx, authorityID, authorityStmt.AuthorityHints, chain, visited, anchors, depth+1)
}

func reverseStrings(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
