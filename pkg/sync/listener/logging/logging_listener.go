// Package logging provides a SyncListener that logs message processing.
// Payload member fields configured as sensitive are masked before logging.
package logging

import (
	"context"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	logger "github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

const maskedValue = "***"

// LoggingSyncListener logs the start and outcome of each processed message.
type LoggingSyncListener struct{}

// NewLoggingSyncListener creates a logging listener.
func NewLoggingSyncListener() port.SyncListener {
	return &LoggingSyncListener{}
}

func (l *LoggingSyncListener) BeforeProcess(ctx context.Context, msg *port.InboundMessage) context.Context {
	logger.Infof("SyncListener: BeforeProcess - MessageID: %s, AfterUpdatedAt: %s", msg.ID, msg.AfterUpdatedAt)
	logger.Debugf("SyncListener: payload: %+v", MaskPayload(msg.Payload, config.GetMaskedMemberKeys()))
	return ctx
}

func (l *LoggingSyncListener) AfterProcess(ctx context.Context, msg *port.InboundMessage, result *port.ProcessResult, err error) {
	if err != nil {
		logger.Errorf("SyncListener: AfterProcess - MessageID: %s, JobID: %s, Error: %v", msg.ID, result.JobID, err)
		return
	}
	action := ""
	if result.Comparison != nil {
		action = string(result.Comparison.Action)
	}
	logger.Infof("SyncListener: AfterProcess - MessageID: %s, JobID: %s, Action: %s, Acked: %t", msg.ID, result.JobID, action, result.Acked)
}

var _ port.SyncListener = (*LoggingSyncListener)(nil)

// MaskPayload returns a copy of the family document with the configured
// member keys replaced by a mask, at the top level and inside each member.
func MaskPayload(payload model.FamilyDocument, maskedKeys []string) model.FamilyDocument {
	if len(maskedKeys) == 0 {
		return payload
	}
	masked := make(model.FamilyDocument, len(payload))
	for k, v := range payload {
		masked[k] = v
	}
	maskMap(masked, maskedKeys)

	if members, ok := masked["members"].([]interface{}); ok {
		out := make([]interface{}, len(members))
		for i, m := range members {
			member, ok := m.(map[string]interface{})
			if !ok {
				out[i] = m
				continue
			}
			copied := make(map[string]interface{}, len(member))
			for k, v := range member {
				copied[k] = v
			}
			maskMap(copied, maskedKeys)
			out[i] = copied
		}
		masked["members"] = out
	}
	return masked
}

func maskMap(m map[string]interface{}, maskedKeys []string) {
	for _, key := range maskedKeys {
		if _, ok := m[key]; ok {
			m[key] = maskedValue
		}
	}
}
