package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUNET/fed-trust/pkg/message"
)

func TestCombine_ValueThenDefaultValueWins(t *testing.T) {
	chain := []*message.EntityStatement{
		{
			Subject: "https://anchor.example.org",
			MetadataPolicy: message.MetadataPolicy{
				"openid_relying_party": message.EntityTypePolicy{
					"scope": message.ClaimPolicy{message.VerbValue: "openid"},
				},
			},
		},
		{
			Subject: "https://ia.example.org",
			MetadataPolicy: message.MetadataPolicy{
				"openid_relying_party": message.EntityTypePolicy{
					"scope": message.ClaimPolicy{message.VerbDefault: "profile"},
				},
			},
		},
	}
	combined, err := Combine(chain)
	require.NoError(t, err)
	claim := combined["openid_relying_party"]["scope"]
	assert.Equal(t, "openid", claim[message.VerbValue])
	_, hasDefault := claim[message.VerbDefault]
	assert.False(t, hasDefault)
}

func TestCombine_ConflictingValuesRejected(t *testing.T) {
	chain := []*message.EntityStatement{
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"scope": message.ClaimPolicy{message.VerbValue: "a"},
		}}},
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"scope": message.ClaimPolicy{message.VerbValue: "b"},
		}}},
	}
	_, err := Combine(chain)
	assert.Error(t, err)
}

func TestCombine_SubsetOfIntersection(t *testing.T) {
	chain := []*message.EntityStatement{
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"response_types": message.ClaimPolicy{message.VerbSubsetOf: []string{"code", "token", "id_token"}},
		}}},
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"response_types": message.ClaimPolicy{message.VerbSubsetOf: []string{"code", "token"}},
		}}},
	}
	combined, err := Combine(chain)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"code", "token"}, toStringSlice(combined["openid_relying_party"]["response_types"][message.VerbSubsetOf]))
}

func TestCombine_OneOfEmptyIntersectionRejected(t *testing.T) {
	chain := []*message.EntityStatement{
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"token_endpoint_auth_method": message.ClaimPolicy{message.VerbOneOf: []string{"private_key_jwt"}},
		}}},
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"token_endpoint_auth_method": message.ClaimPolicy{message.VerbOneOf: []string{"client_secret_basic"}},
		}}},
	}
	_, err := Combine(chain)
	assert.Error(t, err)
}

func TestCombine_EssentialOR(t *testing.T) {
	chain := []*message.EntityStatement{
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"contacts": message.ClaimPolicy{message.VerbEssential: false},
		}}},
		{MetadataPolicy: message.MetadataPolicy{"openid_relying_party": message.EntityTypePolicy{
			"contacts": message.ClaimPolicy{message.VerbEssential: true},
		}}},
	}
	combined, err := Combine(chain)
	require.NoError(t, err)
	assert.Equal(t, true, combined["openid_relying_party"]["contacts"][message.VerbEssential])
}

func TestApply_EssentialMissingRejected(t *testing.T) {
	combined := message.MetadataPolicy{
		"openid_relying_party": message.EntityTypePolicy{
			"contacts": message.ClaimPolicy{message.VerbEssential: true},
		},
	}
	_, err := Apply(combined, message.Metadata{"openid_relying_party": {}})
	assert.Error(t, err)
}

func TestApply_DefaultSetsWhenAbsent(t *testing.T) {
	combined := message.MetadataPolicy{
		"openid_relying_party": message.EntityTypePolicy{
			"scope": message.ClaimPolicy{message.VerbDefault: "openid"},
		},
	}
	out, err := Apply(combined, message.Metadata{"openid_relying_party": {}})
	require.NoError(t, err)
	assert.Equal(t, "openid", out["openid_relying_party"]["scope"])
}

func TestApply_SupersetOfRequiresPresence(t *testing.T) {
	combined := message.MetadataPolicy{
		"openid_relying_party": message.EntityTypePolicy{
			"response_types": message.ClaimPolicy{message.VerbSupersetOf: []string{"code"}},
		},
	}
	_, err := Apply(combined, message.Metadata{"openid_relying_party": {"response_types": []string{"token"}}})
	assert.Error(t, err)

	out, err := Apply(combined, message.Metadata{"openid_relying_party": {"response_types": []string{"code", "token"}}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"code", "token"}, toStringSlice(out["openid_relying_party"]["response_types"]))
}
