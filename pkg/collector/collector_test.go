package collector

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/message"
	"github.com/SUNET/fed-trust/pkg/statement"
)

// stubFetcher serves canned bodies keyed by exact URL, simulating the
// well-known and fetch endpoints of a small federation graph without any
// real network access. Keys are normalized through canonicalURL so callers
// can register fetch-endpoint responses with a literal "?sub=<id>" suffix
// even though the collector's real request percent-encodes that value.
type stubFetcher struct {
	responses map[string]string
	fail      map[string]bool
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{responses: map[string]string{}, fail: map[string]bool{}}
}

// canonicalURL re-renders a URL with its "sub" query parameter decoded back
// to its literal form, so lookups match however the key was registered
// regardless of percent-encoding applied by the real requester.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	sub := u.Query().Get("sub")
	if sub == "" {
		return raw
	}
	u.RawQuery = ""
	return u.String() + "?sub=" + sub
}

func (f *stubFetcher) Get(_ context.Context, rawurl string) ([]byte, error) {
	key := canonicalURL(rawurl)
	if f.fail[key] {
		return nil, fmt.Errorf("stub: simulated failure for %s", rawurl)
	}
	body, ok := f.responses[key]
	if !ok {
		return nil, fmt.Errorf("stub: no response registered for %s", rawurl)
	}
	return []byte(body), nil
}

func (f *stubFetcher) Post(_ context.Context, url string, _ string, _ []byte) ([]byte, error) {
	return f.Get(context.Background(), url)
}

type entity struct {
	id         string
	key        jwx.SigningKey
	jwks       *message.JWKSet
	authHints  []string
	fetchEP    string
}

func newEntity(t *testing.T, id string, fetchEP string, authHints []string) *entity {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub := jose.JSONWebKey{Key: &priv.PublicKey, KeyID: id, Use: "sig", Algorithm: "RS256"}
	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	return &entity{
		id:        id,
		key:       jwx.SigningKey{Algorithm: jose.RS256, Key: priv, KeyID: id},
		jwks:      &message.JWKSet{Keys: []json.RawMessage{raw}},
		authHints: authHints,
		fetchEP:   fetchEP,
	}
}

func (e *entity) metadata() map[string]map[string]any {
	if e.fetchEP == "" {
		return nil
	}
	return map[string]map[string]any{
		"federation_entity": {"federation_fetch_endpoint": e.fetchEP},
	}
}

func (e *entity) entityConfiguration(t *testing.T) string {
	t.Helper()
	compact, err := statement.CreateEntityConfiguration(statement.EntityConfigurationInput{
		Issuer:         e.id,
		SigningKey:     e.key,
		PublicJWKS:     e.jwks,
		Metadata:       e.metadata(),
		AuthorityHints: statement.StaticAuthorityHints(e.authHints),
	})
	require.NoError(t, err)
	return compact
}

func (e *entity) subordinateStatementAbout(t *testing.T, subject *entity) string {
	t.Helper()
	compact, err := statement.CreateSubordinateStatement(statement.SubordinateStatementInput{
		Issuer:      e.id,
		Subject:     subject.id,
		SigningKey:  e.key,
		SubjectJWKS: subject.jwks,
	})
	require.NoError(t, err)
	return compact
}

// TestGetChains_LinearPathToAnchor builds RP -> IM -> TA and expects a
// single anchor-first chain out of GetChains: TA's statement about IM,
// IM's statement about RP, then RP's own entity configuration.
func TestGetChains_LinearPathToAnchor(t *testing.T) {
	ta := newEntity(t, "https://ta.example.org", "https://ta.example.org/fetch", nil)
	im := newEntity(t, "https://im.example.org", "https://im.example.org/fetch", []string{ta.id})
	rp := newEntity(t, "https://rp.example.org", "", []string{im.id})

	fetcher := newStubFetcher()
	fetcher.responses[rp.id+WellKnownPath] = rp.entityConfiguration(t)
	fetcher.responses[im.id+WellKnownPath] = im.entityConfiguration(t)
	fetcher.responses[ta.id+WellKnownPath] = ta.entityConfiguration(t)
	fetcher.responses[im.fetchEP+"?sub="+rp.id] = im.subordinateStatementAbout(t, rp)
	fetcher.responses[ta.fetchEP+"?sub="+im.id] = ta.subordinateStatementAbout(t, im)

	c := New(fetcher, nil)
	anchors := map[string]*message.JWKSet{ta.id: ta.jwks}

	chains, leaf, leafRaw := c.GetChains(context.Background(), rp.id, anchors)
	require.NotEmpty(t, chains)
	assert.NotEmpty(t, leafRaw)
	assert.Equal(t, rp.id, leaf.Issuer)

	require.Len(t, chains, 1)
	require.Len(t, chains[0], 3)

	// anchor-first: chains[0][0] must be an authority statement issued by
	// a recognized anchor about the intermediate.
	payload, err := jwx.UnverifiedPayload(chains[0][0])
	require.NoError(t, err)
	var first message.EntityStatement
	require.NoError(t, json.Unmarshal(payload, &first))
	assert.Equal(t, ta.id, first.Issuer)
	assert.Equal(t, im.id, first.Subject)

	payload, err = jwx.UnverifiedPayload(chains[0][1])
	require.NoError(t, err)
	var last message.EntityStatement
	require.NoError(t, json.Unmarshal(payload, &last))
	assert.Equal(t, im.id, last.Issuer)
	assert.Equal(t, rp.id, last.Subject)

	assert.Equal(t, leafRaw, chains[0][2])
}

// TestGetChains_BranchesOverTwoIntermediates builds RP with two authority
// hints (IM1, IM2), both eventually reaching TA, and expects two chains.
func TestGetChains_BranchesOverTwoIntermediates(t *testing.T) {
	ta := newEntity(t, "https://ta.example.org", "https://ta.example.org/fetch", nil)
	im1 := newEntity(t, "https://im1.example.org", "https://im1.example.org/fetch", []string{ta.id})
	im2 := newEntity(t, "https://im2.example.org", "https://im2.example.org/fetch", []string{ta.id})
	rp := newEntity(t, "https://rp.example.org", "", []string{im1.id, im2.id})

	fetcher := newStubFetcher()
	fetcher.responses[rp.id+WellKnownPath] = rp.entityConfiguration(t)
	fetcher.responses[im1.id+WellKnownPath] = im1.entityConfiguration(t)
	fetcher.responses[im2.id+WellKnownPath] = im2.entityConfiguration(t)
	fetcher.responses[ta.id+WellKnownPath] = ta.entityConfiguration(t)
	fetcher.responses[im1.fetchEP+"?sub="+rp.id] = im1.subordinateStatementAbout(t, rp)
	fetcher.responses[im2.fetchEP+"?sub="+rp.id] = im2.subordinateStatementAbout(t, rp)
	fetcher.responses[ta.fetchEP+"?sub="+im1.id] = ta.subordinateStatementAbout(t, im1)
	fetcher.responses[ta.fetchEP+"?sub="+im2.id] = ta.subordinateStatementAbout(t, im2)

	c := New(fetcher, nil)
	anchors := map[string]*message.JWKSet{ta.id: ta.jwks}

	chains, _, _ := c.GetChains(context.Background(), rp.id, anchors)
	assert.Len(t, chains, 2)
}

// TestGetChains_AbandonsUnreachableBranch: one authority_hint points at an
// entity whose well-known endpoint errors; the other succeeds. GetChains
// must return the surviving chain and no error.
func TestGetChains_AbandonsUnreachableBranch(t *testing.T) {
	ta := newEntity(t, "https://ta.example.org", "https://ta.example.org/fetch", nil)
	im1 := newEntity(t, "https://im1.example.org", "https://im1.example.org/fetch", []string{ta.id})
	deadIM := newEntity(t, "https://dead.example.org", "https://dead.example.org/fetch", []string{ta.id})
	rp := newEntity(t, "https://rp.example.org", "", []string{im1.id, deadIM.id})

	fetcher := newStubFetcher()
	fetcher.responses[rp.id+WellKnownPath] = rp.entityConfiguration(t)
	fetcher.responses[im1.id+WellKnownPath] = im1.entityConfiguration(t)
	fetcher.responses[ta.id+WellKnownPath] = ta.entityConfiguration(t)
	fetcher.responses[im1.fetchEP+"?sub="+rp.id] = im1.subordinateStatementAbout(t, rp)
	fetcher.responses[ta.fetchEP+"?sub="+im1.id] = ta.subordinateStatementAbout(t, im1)
	fetcher.fail[deadIM.id+WellKnownPath] = true

	c := New(fetcher, nil)
	anchors := map[string]*message.JWKSet{ta.id: ta.jwks}

	chains, _, _ := c.GetChains(context.Background(), rp.id, anchors)
	require.Len(t, chains, 1)
}

// TestGetChains_DegenerateWhenLeafIsAnchor: a leaf entity that is itself a
// recognized anchor should yield a single-element chain containing only its
// own entity configuration.
func TestGetChains_DegenerateWhenLeafIsAnchor(t *testing.T) {
	ta := newEntity(t, "https://ta.example.org", "", nil)
	fetcher := newStubFetcher()
	fetcher.responses[ta.id+WellKnownPath] = ta.entityConfiguration(t)

	c := New(fetcher, nil)
	anchors := map[string]*message.JWKSet{ta.id: ta.jwks}

	chains, leaf, _ := c.GetChains(context.Background(), ta.id, anchors)
	require.Len(t, chains, 1)
	require.Len(t, chains[0], 1)
	assert.Equal(t, ta.id, leaf.Issuer)
}

// TestGetChains_CycleIsAbandoned: IM's authority_hints loops back to RP
// itself. The branch must be dropped rather than recursing forever.
func TestGetChains_CycleIsAbandoned(t *testing.T) {
	ta := newEntity(t, "https://ta.example.org", "", nil)
	im := newEntity(t, "https://im.example.org", "https://im.example.org/fetch", nil)
	rp := newEntity(t, "https://rp.example.org", "", []string{im.id})
	// im's authority_hints points back at rp, forming a cycle instead of
	// reaching ta.
	im.authHints = []string{rp.id}

	fetcher := newStubFetcher()
	fetcher.responses[rp.id+WellKnownPath] = rp.entityConfiguration(t)
	fetcher.responses[im.id+WellKnownPath] = im.entityConfiguration(t)
	fetcher.responses[im.fetchEP+"?sub="+rp.id] = im.subordinateStatementAbout(t, rp)

	c := New(fetcher, nil)
	anchors := map[string]*message.JWKSet{ta.id: ta.jwks}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chains, _, _ := c.GetChains(ctx, rp.id, anchors)
	assert.Empty(t, chains)
}
