package message

import "github.com/SUNET/fed-trust/pkg/ferrors"

// PolicyVerb names one of the recognized per-claim policy operators from
// spec.md §3/§4.4.
type PolicyVerb string

const (
	VerbSubsetOf   PolicyVerb = "subset_of"
	VerbSupersetOf PolicyVerb = "superset_of"
	VerbOneOf      PolicyVerb = "one_of"
	VerbAdd        PolicyVerb = "add"
	VerbValue      PolicyVerb = "value"
	VerbDefault    PolicyVerb = "default"
	VerbEssential  PolicyVerb = "essential"
)

// KnownVerbs are the verbs this implementation understands. Any other verb
// appearing in policy_language_crit is rejected per spec.md §4.4.
var KnownVerbs = map[PolicyVerb]bool{
	VerbSubsetOf:   true,
	VerbSupersetOf: true,
	VerbOneOf:      true,
	VerbAdd:        true,
	VerbValue:      true,
	VerbDefault:    true,
	VerbEssential:  true,
}

// ClaimPolicy is the set of verbs applied to a single metadata claim, e.g.
// {"subset_of": [...], "default": ...}.
type ClaimPolicy map[PolicyVerb]any

// EntityTypePolicy maps claim name -> ClaimPolicy for one entity_type.
type EntityTypePolicy map[string]ClaimPolicy

// MetadataPolicy is the full `metadata_policy` claim: entity_type -> claim -> verbs.
type MetadataPolicy map[string]EntityTypePolicy

// VerifyCritical rejects unknown verbs named in policy_language_crit, per
// spec.md §4.4 "Unknown verb marked critical by policy_language_crit and not
// supported ⇒ reject".
func (p MetadataPolicy) VerifyCritical(policyLanguageCrit []string) error {
	if len(policyLanguageCrit) == 0 {
		return nil
	}
	critical := make(map[string]bool, len(policyLanguageCrit))
	for _, c := range policyLanguageCrit {
		critical[c] = true
	}
	for _, entityTypePolicy := range p {
		for _, claimPolicy := range entityTypePolicy {
			for verb := range claimPolicy {
				if critical[string(verb)] && !KnownVerbs[verb] {
					return ferrors.New(ferrors.UnknownCriticalExtension, "", string(verb))
				}
			}
		}
	}
	return nil
}

// Metadata is the `metadata` claim: entity_type -> claim -> value.
type Metadata map[string]map[string]any
