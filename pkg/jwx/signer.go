package jwx

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// SigningKey pairs a private key with the algorithm and kid it should be
// used under, matching the shape a FederationContext keeps per entity.
type SigningKey struct {
	Algorithm jose.SignatureAlgorithm
	Key       interface{}
	KeyID     string
}

// SignCompact signs payload (already JSON-marshaled or about to be) as a
// compact JWS with the given `typ` header, per spec.md §4.1 ("compact JWS
// tokens with header typ=entity-statement+jwt" etc). This is the single
// point in the module that calls into go-jose's signer.
func SignCompact(payload any, signingKey SigningKey, typ string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jwx: marshal payload: %w", err)
	}

	opts := (&jose.SignerOptions{}).WithType(jose.ContentType(typ))
	if signingKey.KeyID != "" {
		opts = opts.WithHeader("kid", signingKey.KeyID)
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: signingKey.Algorithm,
		Key:       signingKey.Key,
	}, opts)
	if err != nil {
		return "", fmt.Errorf("jwx: new signer: %w", err)
	}

	jws, err := signer.Sign(raw)
	if err != nil {
		return "", fmt.Errorf("jwx: sign: %w", err)
	}

	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("jwx: serialize: %w", err)
	}
	return compact, nil
}

// DefaultAlgorithms lists the signature algorithms this core accepts when
// parsing inbound JWSes. RS256 is the factory default (spec.md §4.1); the
// others are accepted for interop with peers using EC keys.
var DefaultAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
}
