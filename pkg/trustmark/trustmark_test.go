package trustmark

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUNET/fed-trust/pkg/httpfetch"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/message"
	"github.com/SUNET/fed-trust/pkg/statement"
)

func genKeyPair(t *testing.T, kid string) (jwx.SigningKey, *message.JWKSet) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub := jose.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Use: "sig", Algorithm: "RS256"}
	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	return jwx.SigningKey{Algorithm: jose.RS256, Key: priv, KeyID: kid}, &message.JWKSet{Keys: []json.RawMessage{raw}}
}

func TestVerifyMark_AcceptsPlainMarkFromRecognizedIssuer(t *testing.T) {
	issuerKey, issuerJWKS := genKeyPair(t, "issuer-key")

	compactMark, err := statement.CreateTrustMark(statement.TrustMarkInput{
		Issuer:      "https://issuer.example.org",
		Subject:     "https://leaf.example.org",
		TrustMarkID: "https://marks.example.org/sirtfi",
		SigningKey:  issuerKey,
		Lifetime:    time.Hour,
	})
	require.NoError(t, err)

	anchorConfig := &message.EntityStatement{
		Issuer:  "https://ta.example.org",
		Subject: "https://ta.example.org",
		TrustMarkIssuers: map[string][]string{
			"https://marks.example.org/sirtfi": {"https://issuer.example.org"},
		},
	}

	chain := &message.TrustChain{
		Anchor: "https://ta.example.org",
		VerifiedChain: []*message.EntityStatement{
			{Issuer: "https://ta.example.org", Subject: "https://issuer.example.org"},
			{Issuer: "https://issuer.example.org", Subject: "https://issuer.example.org", JWKS: issuerJWKS},
		},
	}
	finder := func(ctx context.Context, entityID, anchorID string) *message.TrustChain {
		if entityID == "https://issuer.example.org" && anchorID == "https://ta.example.org" {
			return chain
		}
		return nil
	}

	v := New(jwx.NewKeyJar(), nil, finder, nil)
	result, err := v.VerifyMark(context.Background(), compactMark, anchorConfig, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.org", result.Mark.Issuer)
}

func TestVerifyMark_RejectsUnrecognizedIssuer(t *testing.T) {
	issuerKey, _ := genKeyPair(t, "issuer-key")

	compactMark, err := statement.CreateTrustMark(statement.TrustMarkInput{
		Issuer:      "https://rogue.example.org",
		Subject:     "https://leaf.example.org",
		TrustMarkID: "https://marks.example.org/sirtfi",
		SigningKey:  issuerKey,
	})
	require.NoError(t, err)

	anchorConfig := &message.EntityStatement{
		Issuer:  "https://ta.example.org",
		Subject: "https://ta.example.org",
		TrustMarkIssuers: map[string][]string{
			"https://marks.example.org/sirtfi": {"https://issuer.example.org"},
		},
	}

	v := New(jwx.NewKeyJar(), nil, func(context.Context, string, string) *message.TrustChain { return nil }, nil)
	_, err = v.VerifyMark(context.Background(), compactMark, anchorConfig, VerifyOptions{})
	assert.Error(t, err)
}

func TestVerifyMark_DelegatedMarkRoundTrips(t *testing.T) {
	ownerKey, ownerJWKS := genKeyPair(t, "owner-key")
	issuerKey, issuerJWKS := genKeyPair(t, "issuer-key")

	delegation, err := statement.CreateTrustMarkDelegation(statement.TrustMarkDelegationInput{
		Issuer:      "https://owner.example.org",
		Subject:     "https://issuer.example.org",
		TrustMarkID: "https://marks.example.org/sirtfi",
		SigningKey:  ownerKey,
		Lifetime:    time.Hour,
	})
	require.NoError(t, err)

	compactMark, err := statement.CreateTrustMark(statement.TrustMarkInput{
		Issuer:      "https://issuer.example.org",
		Subject:     "https://leaf.example.org",
		TrustMarkID: "https://marks.example.org/sirtfi",
		SigningKey:  issuerKey,
		Delegation:  delegation,
		Lifetime:    time.Hour,
	})
	require.NoError(t, err)

	anchorConfig := &message.EntityStatement{
		Issuer:  "https://ta.example.org",
		Subject: "https://ta.example.org",
		TrustMarkIssuers: map[string][]string{
			"https://marks.example.org/sirtfi": {}, // any issuer permitted
		},
		TrustMarkOwners: map[string]message.TrustMarkOwner{
			"https://marks.example.org/sirtfi": {Sub: "https://owner.example.org", JWKS: ownerJWKS},
		},
	}

	chain := &message.TrustChain{
		Anchor: "https://ta.example.org",
		VerifiedChain: []*message.EntityStatement{
			{Issuer: "https://ta.example.org", Subject: "https://issuer.example.org"},
			{Issuer: "https://issuer.example.org", Subject: "https://issuer.example.org", JWKS: issuerJWKS},
		},
	}
	finder := func(context.Context, string, string) *message.TrustChain { return chain }

	v := New(jwx.NewKeyJar(), nil, finder, nil)
	result, err := v.VerifyMark(context.Background(), compactMark, anchorConfig, VerifyOptions{})
	require.NoError(t, err)
	require.NotNil(t, result.Delegator)
	assert.Equal(t, "https://owner.example.org", result.Delegator.Issuer)
}

func TestVerifyMark_StatusCheckRequiresActive(t *testing.T) {
	issuerKey, issuerJWKS := genKeyPair(t, "issuer-key")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"active":false}`))
	}))
	defer srv.Close()

	compactMark, err := statement.CreateTrustMark(statement.TrustMarkInput{
		Issuer:      "https://issuer.example.org",
		Subject:     "https://leaf.example.org",
		TrustMarkID: "https://marks.example.org/sirtfi",
		SigningKey:  issuerKey,
	})
	require.NoError(t, err)

	anchorConfig := &message.EntityStatement{
		Issuer:  "https://ta.example.org",
		Subject: "https://ta.example.org",
		TrustMarkIssuers: map[string][]string{
			"https://marks.example.org/sirtfi": {"https://issuer.example.org"},
		},
	}
	chain := &message.TrustChain{
		Anchor: "https://ta.example.org",
		VerifiedChain: []*message.EntityStatement{
			{Issuer: "https://issuer.example.org", Subject: "https://issuer.example.org", JWKS: issuerJWKS},
		},
	}
	finder := func(context.Context, string, string) *message.TrustChain { return chain }

	v := New(jwx.NewKeyJar(), httpfetch.New(httpfetch.Config{}), finder, nil)
	_, err = v.VerifyMark(context.Background(), compactMark, anchorConfig, VerifyOptions{CheckStatus: true, StatusEndpoint: srv.URL})
	assert.Error(t, err)
}
