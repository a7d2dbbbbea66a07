// Package transform derives the CRM-shaped AccountDocument from the raw
// inbound FamilyDocument. The transform is pure: the same inbound document
// always yields the same outbound document, and nothing here talks to the
// CRM or the store.
package transform

import (
	"sort"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

const (
	keyFamilyExternalID = "familyExternalId"
	keyMembers          = "members"
	keyMemberExternalID = "externalId"
	keyMemberPrimary    = "primary"
)

// FamilyTransformer implements port.PayloadTransformer.
type FamilyTransformer struct{}

// NewFamilyTransformer creates the outbound payload transformer.
func NewFamilyTransformer() port.PayloadTransformer {
	return &FamilyTransformer{}
}

// Transform maps an inbound FamilyDocument to the outbound AccountDocument.
// Top-level fields other than the external id and the member list become
// account fields; each member becomes a contact with its remaining fields.
func (t *FamilyTransformer) Transform(inbound model.FamilyDocument) (*model.AccountDocument, error) {
	const op = "transform"

	familyExternalID, err := stringField(inbound, keyFamilyExternalID)
	if err != nil {
		return nil, err
	}

	account := &model.AccountDocument{
		ExternalID: familyExternalID,
		Fields:     map[string]interface{}{},
	}
	for k, v := range inbound {
		if k == keyFamilyExternalID || k == keyMembers {
			continue
		}
		account.Fields[k] = v
	}

	members, err := memberList(inbound)
	if err != nil {
		return nil, err
	}
	for i, member := range members {
		externalID, err := stringField(member, keyMemberExternalID)
		if err != nil {
			return nil, exception.NewSyncErrorf(op, "member %d: %s", i, exception.ExtractErrorMessage(err))
		}
		contact := model.ContactDocument{
			ExternalID: externalID,
			Fields:     map[string]interface{}{},
		}
		for k, v := range member {
			if k == keyMemberExternalID {
				continue
			}
			contact.Fields[k] = v
		}
		account.Contacts = append(account.Contacts, contact)
	}

	// Deterministic contact order keeps the structural-equality comparison
	// stable across runs.
	sort.SliceStable(account.Contacts, func(i, j int) bool {
		return account.Contacts[i].ExternalID < account.Contacts[j].ExternalID
	})
	return account, nil
}

// Identify extracts the identity pair of an inbound document: the family
// external id and the primary member's external id. The primary member is the
// one flagged primary, falling back to the first member.
func Identify(inbound model.FamilyDocument) (familyExternalID, primaryPersonExternalID string, err error) {
	familyExternalID, err = stringField(inbound, keyFamilyExternalID)
	if err != nil {
		return "", "", err
	}

	members, err := memberList(inbound)
	if err != nil {
		return "", "", err
	}
	if len(members) == 0 {
		return "", "", exception.NewSyncErrorf("transform", "inbound document has no members")
	}

	primary := members[0]
	for _, m := range members {
		if flag, ok := m[keyMemberPrimary].(bool); ok && flag {
			primary = m
			break
		}
	}
	primaryPersonExternalID, err = stringField(primary, keyMemberExternalID)
	if err != nil {
		return "", "", err
	}
	return familyExternalID, primaryPersonExternalID, nil
}

func stringField(doc map[string]interface{}, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", exception.NewSyncErrorf("transform", "missing required field '%s'", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", exception.NewSyncErrorf("transform", "field '%s' must be a non-empty string, got %v", key, v)
	}
	return s, nil
}

func memberList(inbound model.FamilyDocument) ([]map[string]interface{}, error) {
	raw, ok := inbound[keyMembers]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, exception.NewSyncErrorf("transform", "field '%s' must be a list, got %T", keyMembers, raw)
	}

	members := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, exception.NewSyncErrorf("transform", "member %d must be a document, got %T", i, item)
		}
		members = append(members, m)
	}
	return members, nil
}
