// Package policy implements the metadata policy engine of spec.md §4.4:
// combining metadata_policy entries anchor-to-leaf across a verified trust
// chain, then applying the combined policy to a leaf's metadata. There is no
// original_source grounding for this module (the merge logic lives in
// idpyoidc, which the retrieval pack does not carry) so it is built
// directly from spec.md §4.4's combination table.
package policy

import (
	"reflect"

	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/message"
)

// Combine folds metadata_policy entries from an anchor-first verified chain
// into one combined message.MetadataPolicy, later (more leaf-ward) entries refining earlier
// ones per the table in spec.md §4.4.
func Combine(chain []*message.EntityStatement) (message.MetadataPolicy, error) {
	combined := message.MetadataPolicy{}
	for _, statement := range chain {
		if statement.MetadataPolicy == nil {
			continue
		}
		if err := statement.MetadataPolicy.VerifyCritical(statement.PolicyLanguageCrit); err != nil {
			return nil, err
		}
		for entityType, typePolicy := range statement.MetadataPolicy {
			accumType, ok := combined[entityType]
			if !ok {
				accumType = message.EntityTypePolicy{}
				combined[entityType] = accumType
			}
			for claim, claimPolicy := range typePolicy {
				merged, err := combineClaim(accumType[claim], claimPolicy, statement.Subject)
				if err != nil {
					return nil, err
				}
				accumType[claim] = merged
			}
		}
	}
	return combined, nil
}

func combineClaim(accum, incoming message.ClaimPolicy, subject string) (message.ClaimPolicy, error) {
	if accum == nil {
		accum = message.ClaimPolicy{}
	}
	for verb, val := range incoming {
		if !message.KnownVerbs[verb] {
			continue
		}
		switch verb {
		case message.VerbValue:
			if existing, ok := accum[message.VerbValue]; ok && !equalValues(existing, val) {
				return nil, ferrors.New(ferrors.ConstraintViolation, subject, "conflicting value policy for claim")
			}
			if subset, ok := accum[message.VerbSubsetOf]; ok && !valueWithinSubset(val, subset) {
				return nil, ferrors.New(ferrors.ConstraintViolation, subject, "value not within subset_of")
			}
			accum[message.VerbValue] = val
			delete(accum, message.VerbDefault)

		case message.VerbDefault:
			if _, hasValue := accum[message.VerbValue]; hasValue {
				continue // value already wins, default is dropped
			}
			if existing, ok := accum[message.VerbDefault]; ok && !equalValues(existing, val) {
				return nil, ferrors.New(ferrors.ConstraintViolation, subject, "conflicting default policy for claim")
			}
			accum[message.VerbDefault] = val

		case message.VerbAdd:
			accum[message.VerbAdd] = unionStrings(toStringSlice(accum[message.VerbAdd]), toStringSlice(val))

		case message.VerbSubsetOf:
			if existing, ok := accum[message.VerbSubsetOf]; ok {
				accum[message.VerbSubsetOf] = intersectStrings(toStringSlice(existing), toStringSlice(val))
			} else {
				accum[message.VerbSubsetOf] = val
			}
			if v, ok := accum[message.VerbValue]; ok && !valueWithinSubset(v, accum[message.VerbSubsetOf]) {
				return nil, ferrors.New(ferrors.ConstraintViolation, subject, "value not within subset_of")
			}

		case message.VerbSupersetOf:
			if existing, ok := accum[message.VerbSupersetOf]; ok {
				accum[message.VerbSupersetOf] = unionStrings(toStringSlice(existing), toStringSlice(val))
			} else {
				accum[message.VerbSupersetOf] = val
			}

		case message.VerbOneOf:
			if existing, ok := accum[message.VerbOneOf]; ok {
				intersected := intersectStrings(toStringSlice(existing), toStringSlice(val))
				if len(intersected) == 0 {
					return nil, ferrors.New(ferrors.ConstraintViolation, subject, "one_of intersection is empty")
				}
				accum[message.VerbOneOf] = intersected
			} else {
				accum[message.VerbOneOf] = val
			}

		case message.VerbEssential:
			existing, _ := accum[message.VerbEssential].(bool)
			incomingBool, _ := val.(bool)
			accum[message.VerbEssential] = existing || incomingBool
		}
	}
	return accum, nil
}

// Apply applies the combined per-entity-type policy to the leaf's metadata,
// per spec.md §4.4's Apply rules, returning the resulting metadata map.
func Apply(combined message.MetadataPolicy, metadata message.Metadata) (message.Metadata, error) {
	result := make(message.Metadata, len(metadata))
	for entityType, values := range metadata {
		out := make(map[string]any, len(values))
		for k, v := range values {
			out[k] = v
		}
		result[entityType] = out
	}

	for entityType, typePolicy := range combined {
		out, ok := result[entityType]
		if !ok {
			out = map[string]any{}
			result[entityType] = out
		}
		for claim, claimPolicy := range typePolicy {
			if err := applyClaim(claim, claimPolicy, out); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func applyClaim(claim string, cp message.ClaimPolicy, out map[string]any) error {
	if v, ok := cp[message.VerbValue]; ok {
		out[claim] = v
	}
	if v, ok := cp[message.VerbDefault]; ok {
		if _, present := out[claim]; !present {
			out[claim] = v
		}
	}
	if v, ok := cp[message.VerbAdd]; ok {
		out[claim] = unionStrings(toStringSlice(out[claim]), toStringSlice(v))
	}
	if v, ok := cp[message.VerbSubsetOf]; ok {
		if existing, present := out[claim]; present {
			out[claim] = intersectStrings(toStringSlice(existing), toStringSlice(v))
		}
	}
	if v, ok := cp[message.VerbOneOf]; ok {
		if existing, present := out[claim]; present {
			out[claim] = intersectStrings(toStringSlice(existing), toStringSlice(v))
		}
	}
	if v, ok := cp[message.VerbSupersetOf]; ok {
		required := toStringSlice(v)
		existing := toStringSlice(out[claim])
		for _, r := range required {
			if !containsString(existing, r) {
				return ferrors.New(ferrors.ConstraintViolation, claim, "metadata does not satisfy superset_of")
			}
		}
	}
	if essential, ok := cp[message.VerbEssential]; ok {
		if b, _ := essential.(bool); b {
			if _, present := out[claim]; !present {
				return ferrors.New(ferrors.MissingRequiredAttribute, claim, "essential claim missing from metadata")
			}
		}
	}
	return nil
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func valueWithinSubset(value, subset any) bool {
	allowed := toStringSlice(subset)
	for _, v := range toStringSlice(value) {
		if !containsString(allowed, v) {
			return false
		}
	}
	if len(toStringSlice(value)) == 0 {
		if s, ok := value.(string); ok {
			return containsString(allowed, s)
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func intersectStrings(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
