package model

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// Action is the per-entity or aggregate verdict of a comparison.
type Action string

const (
	ActionCreate          Action = "create"
	ActionUpdate          Action = "update"
	ActionNoop            Action = "noop"
	ActionStale           Action = "stale"
	ActionCreateAndUpdate Action = "create_and_update"
)

// ContactComparison is the per-contact slice of a Comparison. Response fields
// are populated by the executor after the CRM exchange.
type ContactComparison struct {
	ExternalID      string `json:"externalId"`
	Action          Action `json:"action"`
	ResponseCode    string `json:"responseCode,omitempty"`
	ResponseMessage string `json:"responseMessage,omitempty"`
	ResponseBody    string `json:"responseBody,omitempty"`
}

// Comparison is the immutable decision record describing what must change in
// the CRM for one inbound update. Response fields are absent until the
// executor has run; executors return a new Comparison rather than mutating
// the one they were given.
type Comparison struct {
	Action            Action              `json:"action"`
	AccountExternalID string              `json:"accountExternalId"`
	AccountAction     Action              `json:"accountAction"`
	Contacts          []ContactComparison `json:"contacts"`
	ResponseCode      string              `json:"responseCode,omitempty"`
	ResponseMessage   string              `json:"responseMessage,omitempty"`
	ResponseBody      string              `json:"responseBody,omitempty"`
}

// NewComparison builds a Comparison from the account verdict and the ordered
// contact verdicts, deriving the aggregate action.
func NewComparison(accountExternalID string, accountAction Action, contacts []ContactComparison) *Comparison {
	return &Comparison{
		Action:            AggregateAction(accountAction, contacts),
		AccountExternalID: accountExternalID,
		AccountAction:     accountAction,
		Contacts:          contacts,
	}
}

// NewStaleComparison builds the comparison for a superseded update: the
// account and every contact are marked stale and no data diffing occurs.
func NewStaleComparison(accountExternalID string, contactExternalIDs []string) *Comparison {
	contacts := make([]ContactComparison, 0, len(contactExternalIDs))
	for _, id := range contactExternalIDs {
		contacts = append(contacts, ContactComparison{ExternalID: id, Action: ActionStale})
	}
	return &Comparison{
		Action:            ActionStale,
		AccountExternalID: accountExternalID,
		AccountAction:     ActionStale,
		Contacts:          contacts,
	}
}

// AggregateAction derives the overall verdict from the account and contact
// actions. The rule is strict all-or-nothing per bucket: noop only if the
// account and every contact are noop, create only if all are create, update
// only if all are update; any mix yields create_and_update.
func AggregateAction(accountAction Action, contacts []ContactComparison) Action {
	uniform := func(a Action) bool {
		if accountAction != a {
			return false
		}
		for _, c := range contacts {
			if c.Action != a {
				return false
			}
		}
		return true
	}
	switch {
	case uniform(ActionNoop):
		return ActionNoop
	case uniform(ActionCreate):
		return ActionCreate
	case uniform(ActionUpdate):
		return ActionUpdate
	default:
		return ActionCreateAndUpdate
	}
}

// NoopOrStale reports whether the comparison requires no CRM action.
func (c *Comparison) NoopOrStale() bool {
	return c.Action == ActionNoop || c.Action == ActionStale
}

// ContactByExternalID returns the contact comparison for the given external
// id, or nil.
func (c *Comparison) ContactByExternalID(externalID string) *ContactComparison {
	for i := range c.Contacts {
		if c.Contacts[i].ExternalID == externalID {
			return &c.Contacts[i]
		}
	}
	return nil
}

// WithAccountResponse returns a copy of the comparison carrying the account
// response metadata.
func (c Comparison) WithAccountResponse(code, message, body string) Comparison {
	c.ResponseCode = code
	c.ResponseMessage = message
	c.ResponseBody = body
	c.Contacts = append([]ContactComparison(nil), c.Contacts...)
	return c
}

// Value implements driver.Valuer, persisting the comparison as JSON.
func (c Comparison) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, exception.NewSyncError("model", "Failed to serialize Comparison", err, false, false)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *Comparison) Scan(value interface{}) error {
	return scanJSONColumn(value, c, "Comparison")
}
