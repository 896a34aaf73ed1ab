package message

import "encoding/json"

// ResolveRequest is the `{sub, trust_anchor, type?}` request accepted by the
// resolver endpoint (spec.md §4.6). Per spec.md §9's Open Question, it
// accepts either `trust_anchor` or the legacy `trust_anchor_id` spelling on
// input, and always marshals as `trust_anchor`.
type ResolveRequest struct {
	Subject     string `json:"sub"`
	TrustAnchor string `json:"trust_anchor"`
	Type        string `json:"type,omitempty"`
}

// UnmarshalJSON accepts either `trust_anchor` or `trust_anchor_id`.
func (r *ResolveRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Subject       string `json:"sub"`
		TrustAnchor   string `json:"trust_anchor"`
		TrustAnchorID string `json:"trust_anchor_id"`
		Type          string `json:"type,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Subject = raw.Subject
	r.Type = raw.Type
	if raw.TrustAnchor != "" {
		r.TrustAnchor = raw.TrustAnchor
	} else {
		r.TrustAnchor = raw.TrustAnchorID
	}
	return nil
}

// ResolvedTrustMark is one entry of a ResolveResponse's `trust_marks` list:
// the verified mark's type alongside the original compact JWS.
type ResolvedTrustMark struct {
	TrustMarkType string `json:"trust_mark_type"`
	TrustMark     string `json:"trust_mark"`
}

// ResolveResponse is the payload of the signed `resolve-response+jwt`
// (spec.md §4.6).
type ResolveResponse struct {
	Issuer     string                    `json:"iss"`
	Subject    string                    `json:"sub"`
	IssuedAt   int64                     `json:"iat"`
	Expires    int64                     `json:"exp"`
	Metadata   map[string]map[string]any `json:"metadata"`
	TrustChain []string                  `json:"trust_chain,omitempty"`
	TrustMarks []ResolvedTrustMark       `json:"trust_marks,omitempty"`
}

// ResolveResponseHeaderType is the required `typ` JWS header value; a
// resolve-response JWT lacking it must be rejected (spec.md §8).
const ResolveResponseHeaderType = "resolve-response+jwt"

// EntityStatementHeaderType is the `typ` header for entity configurations
// and subordinate statements.
const EntityStatementHeaderType = "entity-statement+jwt"

// TrustMarkHeaderType is the `typ` header for a signed trust mark.
const TrustMarkHeaderType = "trust-mark+jwt"

// TrustMarkDelegationHeaderType is the `typ` header for a signed delegation.
const TrustMarkDelegationHeaderType = "trust-mark-delegation+jwt"

// ListRequest is the query accepted by the federation list endpoint.
type ListRequest struct {
	EntityType   string `json:"entity_type,omitempty"`
	Intermediate *bool  `json:"intermediate,omitempty"`
	TrustMarked  *bool  `json:"trust_marked,omitempty"`
	TrustMarkID  string `json:"trust_mark_id,omitempty"`
}

// ListResponse is a bare array of entity identifiers on the wire; this
// wrapper exists for symmetry with ListRequest and is marshaled as the
// array directly by callers using ListResponse.EntityIDs.
type ListResponse struct {
	EntityIDs []string `json:"entity_id"`
}

// TrustMarkStatusRequest is accepted by the trust-mark status endpoint,
// either as `{trust_mark}` or `{sub, trust_mark_id, iat?}` (spec.md §6).
type TrustMarkStatusRequest struct {
	Subject     string `json:"sub,omitempty"`
	TrustMarkID string `json:"trust_mark_id,omitempty"`
	IssuedAt    *int64 `json:"iat,omitempty"`
	TrustMark   string `json:"trust_mark,omitempty"`
}

// Valid reports whether the request identifies a mark either directly or by
// (sub, trust_mark_id).
func (r *TrustMarkStatusRequest) Valid() bool {
	if r.TrustMark != "" {
		return true
	}
	return r.Subject != "" && r.TrustMarkID != ""
}

// TrustMarkStatusResponse is the `{active: bool}` response.
type TrustMarkStatusResponse struct {
	Active bool `json:"active"`
}
