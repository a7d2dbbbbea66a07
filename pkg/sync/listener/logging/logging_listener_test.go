package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

func TestMaskPayloadMasksConfiguredMemberKeys(t *testing.T) {
	payload := model.FamilyDocument{
		"familyExternalId": "fam-100",
		"email":            "family@example.com",
		"members": []interface{}{
			map[string]interface{}{
				"externalId": "per-1",
				"firstName":  "Hanako",
				"email":      "hanako@example.com",
			},
		},
	}

	masked := MaskPayload(payload, []string{"firstName", "email"})

	assert.Equal(t, "fam-100", masked["familyExternalId"])
	assert.Equal(t, "***", masked["email"])

	member := masked["members"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "per-1", member["externalId"])
	assert.Equal(t, "***", member["firstName"])
	assert.Equal(t, "***", member["email"])

	// The original document is untouched.
	original := payload["members"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Hanako", original["firstName"])
}

func TestMaskPayloadWithoutKeysReturnsInput(t *testing.T) {
	payload := model.FamilyDocument{"familyExternalId": "fam-100"}
	assert.Equal(t, payload, MaskPayload(payload, nil))
}
