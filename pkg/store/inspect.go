// Inspector support for a store directory: decode filenames and classify
// bodies as JSON, compact JWS, or compact JWE without verifying anything.
// Grounded line-for-line on script/abfile_inspect.py's
// _classify_compact_jwt/parse_content_text (non-core, CLI-adjacent per
// spec.md §6 — not wired into the resolve path).
package store

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ContentKind classifies one store entry's body.
type ContentKind string

const (
	KindJSON    ContentKind = "JSON"
	KindJWS     ContentKind = "JWS"
	KindJWE     ContentKind = "JWE"
	KindOther   ContentKind = "Other"
)

// InspectedEntry is the result of classifying one store file.
type InspectedEntry struct {
	Path       string
	DecodedKey string
	Kind       ContentKind
	Header     map[string]any // JWS/JWE protected header, when applicable
}

var base64urlPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

func isBase64URL(s string) bool {
	return base64urlPattern.MatchString(s)
}

func decodeJSONSegment(segment string) (map[string]any, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// classifyCompact mirrors _classify_compact_jwt: a 3-segment token whose
// header carries "alg" is a JWS; a 5-segment token whose header carries
// "enc" is a JWE. Anything else is not JWT-like.
func classifyCompact(s string) (ContentKind, map[string]any) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 && len(parts) != 5 {
		return "", nil
	}
	for _, p := range parts {
		if !isBase64URL(p) {
			return "", nil
		}
	}
	header, ok := decodeJSONSegment(parts[0])
	if !ok {
		return "", nil
	}
	if len(parts) == 3 {
		if _, hasAlg := header["alg"]; !hasAlg {
			return "", nil
		}
		return KindJWS, header
	}
	if _, hasEnc := header["enc"]; !hasEnc {
		return "", nil
	}
	return KindJWE, header
}

// ClassifyContent decides between JSON, compact JWS/JWE, or Other, per
// parse_content_text: JSON is attempted first; a JSON string holding a
// compact token is unwrapped and classified as that token.
func ClassifyContent(text string) (ContentKind, map[string]any) {
	s := strings.TrimSpace(text)

	var asJSONString string
	if err := json.Unmarshal([]byte(s), &asJSONString); err == nil {
		if kind, header := classifyCompact(asJSONString); kind != "" {
			return kind, header
		}
		return KindJSON, nil
	}
	var asObject map[string]any
	if err := json.Unmarshal([]byte(s), &asObject); err == nil {
		return KindJSON, nil
	}

	if kind, header := classifyCompact(s); kind != "" {
		return kind, header
	}
	return KindOther, nil
}

// InspectDir walks dir, decoding every non-lock filename and classifying
// its body, skipping files whose name does not decode as base64url (false
// positives are expected and silently skipped, per abfile_inspect.py).
func InspectDir(dir string, maxBytes int64) ([]InspectedEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]InspectedEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), LockSuffix) {
			continue
		}
		decoded, err := DecodeKey(e.Name())
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			data = data[:maxBytes]
		}
		kind, header := ClassifyContent(string(data))
		out = append(out, InspectedEntry{Path: path, DecodedKey: decoded, Kind: kind, Header: header})
	}
	return out, nil
}
