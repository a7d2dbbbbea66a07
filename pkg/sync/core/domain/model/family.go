package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// FamilyDocument is the raw inbound representation of a family as delivered
// by the source-of-record system. It is stored opaquely and persists as a
// JSON column.
type FamilyDocument map[string]interface{}

// Value implements driver.Valuer.
func (d FamilyDocument) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, exception.NewSyncError("model", "Failed to serialize FamilyDocument", err, false, false)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (d *FamilyDocument) Scan(value interface{}) error {
	return scanJSONColumn(value, d, "FamilyDocument")
}

// ContactDocument is the CRM-shaped representation of one household member.
type ContactDocument struct {
	ExternalID string                 `json:"externalId"`
	Fields     map[string]interface{} `json:"fields"`
}

// AccountDocument is the CRM-shaped representation of a family: the account
// fields plus the nested contacts. It is always derived from a FamilyDocument
// by the pure outbound transform and never hand-edited.
type AccountDocument struct {
	ExternalID string                 `json:"externalId"`
	Fields     map[string]interface{} `json:"fields"`
	Contacts   []ContactDocument      `json:"contacts"`
}

// Value implements driver.Valuer.
func (d AccountDocument) Value() (driver.Value, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, exception.NewSyncError("model", "Failed to serialize AccountDocument", err, false, false)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (d *AccountDocument) Scan(value interface{}) error {
	return scanJSONColumn(value, d, "AccountDocument")
}

// ContactByExternalID returns the contact with the given external id, or nil.
func (d *AccountDocument) ContactByExternalID(externalID string) *ContactDocument {
	if d == nil {
		return nil
	}
	for i := range d.Contacts {
		if d.Contacts[i].ExternalID == externalID {
			return &d.Contacts[i]
		}
	}
	return nil
}

// Family is the synchronizable subject: one family/household tracked across
// inbound updates. It holds the last inbound raw payload, the last computed
// outbound payload, and the last comparison result, and owns the Transactions
// created for it.
type Family struct {
	ID                      string           `json:"id"`
	CorrelationID           string           `json:"correlationId"`
	FamilyExternalID        string           `json:"familyExternalId"`
	PrimaryPersonExternalID string           `json:"primaryPersonExternalId"`
	InboundPayload          FamilyDocument   `json:"inboundPayload"`
	InboundAfterUpdatedAt   time.Time        `json:"inboundAfterUpdatedAt"`
	OutboundPayload         *AccountDocument `json:"outboundPayload,omitempty"`
	ComparisonPayload       *Comparison      `json:"comparisonPayload,omitempty"`
	LastTransactedAt        *time.Time       `json:"lastTransactedAt,omitempty"`
	CreateTime              time.Time        `json:"createTime"`
	LastUpdated             time.Time        `json:"lastUpdated"`
	Version                 int              `json:"version"`
}

// NewFamily creates a Family subject for an inbound update.
func NewFamily(familyExternalID, primaryPersonExternalID string, inbound FamilyDocument, afterUpdatedAt time.Time) *Family {
	now := time.Now()
	return &Family{
		ID:                      NewID(),
		CorrelationID:           familyExternalID,
		FamilyExternalID:        familyExternalID,
		PrimaryPersonExternalID: primaryPersonExternalID,
		InboundPayload:          inbound,
		InboundAfterUpdatedAt:   afterUpdatedAt,
		CreateTime:              now,
		LastUpdated:             now,
	}
}

// scanJSONColumn deserializes a JSON database column into dest, tolerating
// nil, empty, and string/byte-slice source values.
func scanJSONColumn(value interface{}, dest interface{}, typeName string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return exception.NewSyncErrorf("model", "Unsupported type for %s scan: %T", typeName, value)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return exception.NewSyncErrorf("model", "Failed to deserialize %s", typeName, err)
	}
	return nil
}
