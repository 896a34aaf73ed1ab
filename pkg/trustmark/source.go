package trustmark

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/store"
)

// CandidateMark is one selected trust mark ready to be advertised or
// attached to an entity configuration.
type CandidateMark struct {
	TrustMarkID string `json:"trust_mark_type"`
	TrustMark   string `json:"trust_mark"`
}

// storedEntry is the JSON shape a Store entry holds: at least a compact
// trust_mark, plus (per the original abfile layout) an outer
// trust_mark_type used for a consistency check against the inner claim.
type storedEntry struct {
	TrustMark     string `json:"trust_mark"`
	TrustMarkType string `json:"trust_mark_type,omitempty"`
}

type candidateRank struct {
	mark CandidateMark
	iat  int64
	exp  *int64
}

// Source reads candidate marks out of a Store for a subject, applying the
// selection rule of spec.md §4.7, grounded on trust_marks_source.py's
// TrustMarksFromABFile.__call__.
type Source struct {
	store    *store.Store
	byIssuer bool
	leeway   time.Duration
}

// NewSource constructs a Source. byIssuer groups candidates by
// (trust_mark_type, iss) when true, or by trust_mark_type alone when false,
// per spec.md §4.7 "per (type, iss) (or per type when issuer grouping is
// off)".
func NewSource(st *store.Store, byIssuer bool, leeway time.Duration) *Source {
	return &Source{store: st, byIssuer: byIssuer, leeway: leeway}
}

// Marks returns the selected candidate marks for entityID (the mark's
// `sub`), applying inner/outer type consistency, optional sub filtering,
// iat/exp windows, and the newest-iat / non-expiring-then-later-exp
// tie-break, in a deterministic (sorted) order.
func (s *Source) Marks(entityID string) ([]CandidateMark, error) {
	items, err := s.store.Items()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	leewaySeconds := int64(s.leeway / time.Second)

	best := make(map[string]candidateRank)
	for _, raw := range items {
		var entry storedEntry
		if json.Unmarshal(raw, &entry) != nil || entry.TrustMark == "" {
			continue
		}

		payload, err := jwx.UnverifiedPayload(entry.TrustMark)
		if err != nil {
			continue
		}
		var mark struct {
			TrustMarkID string `json:"trust_mark_id"`
			Issuer      string `json:"iss"`
			Subject     string `json:"sub"`
			IssuedAt    int64  `json:"iat"`
			Expires     *int64 `json:"exp"`
		}
		if json.Unmarshal(payload, &mark) != nil {
			continue
		}
		if mark.TrustMarkID == "" || mark.Issuer == "" || mark.Subject == "" {
			continue
		}
		if entry.TrustMarkType != "" && entry.TrustMarkType != mark.TrustMarkID {
			continue
		}
		if entityID != "" && mark.Subject != entityID {
			continue
		}
		if mark.IssuedAt > now+leewaySeconds {
			continue
		}
		if mark.Expires != nil && *mark.Expires <= now {
			continue
		}

		groupKey := mark.TrustMarkID + "\x00"
		if s.byIssuer {
			groupKey += mark.Issuer
		}

		candidate := candidateRank{
			mark: CandidateMark{TrustMarkID: mark.TrustMarkID, TrustMark: entry.TrustMark},
			iat:  mark.IssuedAt,
			exp:  mark.Expires,
		}

		cur, ok := best[groupKey]
		if !ok || isBetterCandidate(candidate, cur) {
			best[groupKey] = candidate
		}
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]CandidateMark, 0, len(keys))
	for _, k := range keys {
		out = append(out, best[k].mark)
	}
	return out, nil
}

func expRank(exp *int64) float64 {
	if exp == nil {
		return math.Inf(1)
	}
	return float64(*exp)
}

func isBetterCandidate(candidate, current candidateRank) bool {
	if candidate.iat != current.iat {
		return candidate.iat > current.iat
	}
	return expRank(candidate.exp) > expRank(current.exp)
}
