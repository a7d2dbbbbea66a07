package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

func inboundFixture() model.FamilyDocument {
	return model.FamilyDocument{
		"familyExternalId": "fam-100",
		"name":             "Sato",
		"city":             "Osaka",
		"members": []interface{}{
			map[string]interface{}{
				"externalId": "per-2",
				"firstName":  "Hana",
			},
			map[string]interface{}{
				"externalId": "per-1",
				"firstName":  "Taro",
				"primary":    true,
			},
		},
	}
}

func TestTransformMapsAccountAndContacts(t *testing.T) {
	tr := NewFamilyTransformer()

	account, err := tr.Transform(inboundFixture())
	require.NoError(t, err)

	assert.Equal(t, "fam-100", account.ExternalID)
	assert.Equal(t, map[string]interface{}{"name": "Sato", "city": "Osaka"}, account.Fields)

	require.Len(t, account.Contacts, 2)
	// Contacts are sorted by external id for deterministic comparison.
	assert.Equal(t, "per-1", account.Contacts[0].ExternalID)
	assert.Equal(t, "per-2", account.Contacts[1].ExternalID)
	assert.Equal(t, "Taro", account.Contacts[0].Fields["firstName"])
	assert.NotContains(t, account.Contacts[0].Fields, "externalId")
}

func TestTransformIsDeterministic(t *testing.T) {
	tr := NewFamilyTransformer()

	first, err := tr.Transform(inboundFixture())
	require.NoError(t, err)
	second, err := tr.Transform(inboundFixture())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTransformMissingFamilyExternalID(t *testing.T) {
	tr := NewFamilyTransformer()

	_, err := tr.Transform(model.FamilyDocument{"name": "Sato"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "familyExternalId")
}

func TestTransformMemberWithoutExternalID(t *testing.T) {
	tr := NewFamilyTransformer()

	_, err := tr.Transform(model.FamilyDocument{
		"familyExternalId": "fam-100",
		"members": []interface{}{
			map[string]interface{}{"firstName": "Taro"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member 0")
}

func TestTransformMalformedMembers(t *testing.T) {
	tr := NewFamilyTransformer()

	_, err := tr.Transform(model.FamilyDocument{
		"familyExternalId": "fam-100",
		"members":          "not-a-list",
	})
	require.Error(t, err)
}

func TestTransformNonDocumentMember(t *testing.T) {
	tr := NewFamilyTransformer()

	_, err := tr.Transform(model.FamilyDocument{
		"familyExternalId": "fam-100",
		"members":          []interface{}{"per-1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member 0 must be a document, got string")
}

func TestTransformNoMembers(t *testing.T) {
	tr := NewFamilyTransformer()

	account, err := tr.Transform(model.FamilyDocument{"familyExternalId": "fam-100"})
	require.NoError(t, err)
	assert.Empty(t, account.Contacts)
}

func TestIdentifyPrefersPrimaryMember(t *testing.T) {
	familyID, personID, err := Identify(inboundFixture())
	require.NoError(t, err)
	assert.Equal(t, "fam-100", familyID)
	assert.Equal(t, "per-1", personID)
}

func TestIdentifyFallsBackToFirstMember(t *testing.T) {
	doc := model.FamilyDocument{
		"familyExternalId": "fam-100",
		"members": []interface{}{
			map[string]interface{}{"externalId": "per-7"},
			map[string]interface{}{"externalId": "per-8"},
		},
	}
	_, personID, err := Identify(doc)
	require.NoError(t, err)
	assert.Equal(t, "per-7", personID)
}

func TestIdentifyWithoutMembers(t *testing.T) {
	_, _, err := Identify(model.FamilyDocument{"familyExternalId": "fam-100"})
	require.Error(t, err)
}
