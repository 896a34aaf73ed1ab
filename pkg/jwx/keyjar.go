// Package jwx is the concrete signing/verification service behind the
// "keys + compact JWS sign/verify" collaborator spec.md §1/§6 names as
// external: it wraps github.com/go-jose/go-jose/v4 so that nothing in this
// module hand-implements an RSA/ECDSA/EC signature.
package jwx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/SUNET/fed-trust/pkg/message"
)

// ktyOf derives the "kty" family of a JSONWebKey's underlying key, used for
// the (kty, use, kid) dedup identity spec.md §5 requires for keyring growth.
// go-jose does not expose this as a method; it keeps Key as interface{}.
func ktyOf(k jose.JSONWebKey) string {
	switch k.Key.(type) {
	case *rsa.PublicKey, *rsa.PrivateKey:
		return "RSA"
	case *ecdsa.PublicKey, *ecdsa.PrivateKey:
		return "EC"
	case ed25519.PublicKey, ed25519.PrivateKey:
		return "OKP"
	case []byte:
		return "oct"
	default:
		return "unknown"
	}
}

// KeyJar is the per-entity, per-subject append-only key store described in
// spec.md §4.3 step 2 and §5 "Keyring updates": each Install call adds only
// keys not already present for that subject, identified by (kty, use, kid).
// Safe for concurrent use by multiple chain-verification calls.
type KeyJar struct {
	mu   sync.RWMutex
	keys map[string][]jose.JSONWebKey // subject -> keys
}

// NewKeyJar returns an empty KeyJar.
func NewKeyJar() *KeyJar {
	return &KeyJar{keys: make(map[string][]jose.JSONWebKey)}
}

func keyIdentity(k jose.JSONWebKey) string {
	return ktyOf(k) + "|" + k.Use + "|" + k.KeyID
}

// Install adds keys from a *message.JWKSet for subject, skipping any key
// whose (kty, use, kid) is already present. Pinned keys (e.g. anchor keys
// installed at startup) are never replaced.
func (j *KeyJar) Install(subject string, jwks *message.JWKSet) error {
	if jwks == nil {
		return nil
	}
	parsed := make([]jose.JSONWebKey, 0, len(jwks.Keys))
	for _, raw := range jwks.Keys {
		var key jose.JSONWebKey
		if err := json.Unmarshal(raw, &key); err != nil {
			return err
		}
		parsed = append(parsed, key)
	}
	j.InstallKeys(subject, parsed)
	return nil
}

// InstallKeys is the typed equivalent of Install for callers that already
// hold decoded jose.JSONWebKey values; Install delegates to it.
func (j *KeyJar) InstallKeys(subject string, keys []jose.JSONWebKey) {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing := j.keys[subject]
	seen := make(map[string]bool, len(existing))
	for _, k := range existing {
		seen[keyIdentity(k)] = true
	}
	for _, k := range keys {
		id := keyIdentity(k)
		if seen[id] {
			continue
		}
		seen[id] = true
		existing = append(existing, k)
	}
	j.keys[subject] = existing
}

// KeysFor returns the keys currently installed for subject (may be empty).
func (j *KeyJar) KeysFor(subject string) []jose.JSONWebKey {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]jose.JSONWebKey, len(j.keys[subject]))
	copy(out, j.keys[subject])
	return out
}

// VerifyKeysFor selects, from keys, those whose kid matches the JWS
// header's kid and whose use is empty or "sig". If the header carries no
// kid, every key of compatible use is returned. kty and alg are not
// compared.
func VerifyKeysFor(keys []jose.JSONWebKey, sig jose.Signature) []jose.JSONWebKey {
	kid := sig.Header.KeyID
	var out []jose.JSONWebKey
	for _, k := range keys {
		if kid != "" && k.KeyID != kid {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		out = append(out, k)
	}
	return out
}

// ExportPublicJWKS renders the public half of keys as a message.JWKSet
// suitable for embedding in a signed statement.
func ExportPublicJWKS(keys []jose.JSONWebKey) (*message.JWKSet, error) {
	set := &message.JWKSet{Keys: make([]json.RawMessage, 0, len(keys))}
	for _, k := range keys {
		pub := k.Public()
		raw, err := json.Marshal(pub)
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, raw)
	}
	return set, nil
}
