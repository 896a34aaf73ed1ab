package store

import "fmt"

// TrustMarkStatusKey renders the `iss=<uri>:trust_mark_type=<uri>:iat=<int>`
// key shape spec.md §6's persistent state layout names.
func TrustMarkStatusKey(issuer, trustMarkType string, issuedAt int64) string {
	return fmt.Sprintf("iss=%s:trust_mark_type=%s:iat=%d", issuer, trustMarkType, issuedAt)
}

// trustMarkStatusEntry is the stored value at a TrustMarkStatusKey.
type trustMarkStatusEntry struct {
	Active bool `json:"active"`
}

// TrustMarkStatusStore tracks, for marks this entity itself issued,
// whether each is still active — the state the trust-mark status endpoint
// (spec.md §6) reports back to callers. Built on the same file-per-entry
// Store as SubordinateRegistry.
type TrustMarkStatusStore struct {
	store *Store
}

// OpenTrustMarkStatusStore opens (creating if absent) a
// TrustMarkStatusStore rooted at dir.
func OpenTrustMarkStatusStore(dir string) (*TrustMarkStatusStore, error) {
	s, err := Open(dir)
	if err != nil {
		return nil, err
	}
	return &TrustMarkStatusStore{store: s}, nil
}

// SetActive records whether the mark at key is currently active. Issuing a
// mark should call this with active=true; revoking it calls with
// active=false rather than deleting the entry. IsActive reports false both
// for a revoked entry and for one that was never recorded.
func (s *TrustMarkStatusStore) SetActive(key string, active bool) error {
	return s.store.Set(key, trustMarkStatusEntry{Active: active})
}

// IsActive reports whether key is recorded as active. An entry that was
// never recorded is not active.
func (s *TrustMarkStatusStore) IsActive(key string) bool {
	var entry trustMarkStatusEntry
	if err := s.store.Get(key, &entry); err != nil {
		return false
	}
	return entry.Active
}
