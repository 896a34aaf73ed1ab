package constraints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUNET/fed-trust/pkg/message"
)

func intPtr(i int) *int { return &i }

func chainOf(subjects ...string) []*message.EntityStatement {
	chain := make([]*message.EntityStatement, len(subjects))
	for i, s := range subjects {
		chain[i] = &message.EntityStatement{Subject: s}
	}
	return chain
}

func TestMoreSpecific(t *testing.T) {
	assert.True(t, moreSpecific("https://rp.example.org", "https://example.org"))
	assert.True(t, moreSpecific("https://example.org", "https://example.org"))
	assert.False(t, moreSpecific("https://example.org", "https://rp.example.org"))
	assert.False(t, moreSpecific("https://example.com", "https://example.org"))
}

func TestMeetsRestrictions_PermittedAllowsMatchingLeaf(t *testing.T) {
	chain := chainOf("https://anchor.example.org", "https://ia.example.org", "https://rp.example.org")
	chain[0].Constraints = &message.Constraints{
		NamingConstraints: &message.NamingConstraints{Permitted: []string{"example.org"}},
	}
	err := MeetsRestrictions(chain)
	assert.NoError(t, err)
}

func TestMeetsRestrictions_ExcludedRejectsMatchingLeaf(t *testing.T) {
	chain := chainOf("https://anchor.example.org", "https://ia.example.org", "https://rogue.example.org")
	chain[0].Constraints = &message.Constraints{
		NamingConstraints: &message.NamingConstraints{Excluded: []string{"rogue.example.org"}},
	}
	err := MeetsRestrictions(chain)
	require.Error(t, err)
}

func TestMeetsRestrictions_PermittedRejectsNonMatchingLeaf(t *testing.T) {
	chain := chainOf("https://anchor.example.org", "https://ia.example.org", "https://rp.other.org")
	chain[0].Constraints = &message.Constraints{
		NamingConstraints: &message.NamingConstraints{Permitted: []string{"example.org"}},
	}
	err := MeetsRestrictions(chain)
	require.Error(t, err)
}

func TestMeetsRestrictions_MaxPathLengthViolation(t *testing.T) {
	chain := chainOf("https://anchor.example.org", "https://ia1.example.org", "https://ia2.example.org", "https://rp.example.org")
	chain[0].Constraints = &message.Constraints{MaxPathLength: intPtr(0)}
	chain[1].Constraints = &message.Constraints{MaxPathLength: intPtr(0)}
	err := MeetsRestrictions(chain)
	require.Error(t, err)
}

func TestMeetsRestrictions_MaxPathLengthWithinBudget(t *testing.T) {
	chain := chainOf("https://anchor.example.org", "https://ia.example.org", "https://rp.example.org")
	chain[0].Constraints = &message.Constraints{MaxPathLength: intPtr(1)}
	err := MeetsRestrictions(chain)
	assert.NoError(t, err)
}

func TestMeetsRestrictions_NoConstraintsAlwaysPasses(t *testing.T) {
	chain := chainOf("https://anchor.example.org", "https://rp.example.org")
	assert.NoError(t, MeetsRestrictions(chain))
}
