package sql

import (
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// --- Mapper functions ---

func fromDomainFamily(f *model.Family) *FamilyEntity {
	if f == nil {
		return nil
	}
	return &FamilyEntity{
		ID:                      f.ID,
		CorrelationID:           f.CorrelationID,
		FamilyExternalID:        f.FamilyExternalID,
		PrimaryPersonExternalID: f.PrimaryPersonExternalID,
		InboundPayload:          f.InboundPayload,
		InboundAfterUpdatedAt:   f.InboundAfterUpdatedAt,
		OutboundPayload:         f.OutboundPayload,
		ComparisonPayload:       f.ComparisonPayload,
		LastTransactedAt:        f.LastTransactedAt,
		CreateTime:              f.CreateTime,
		LastUpdated:             f.LastUpdated,
		Version:                 f.Version,
	}
}

func toDomainFamily(entity *FamilyEntity) *model.Family {
	if entity == nil {
		return nil
	}
	return &model.Family{
		ID:                      entity.ID,
		CorrelationID:           entity.CorrelationID,
		FamilyExternalID:        entity.FamilyExternalID,
		PrimaryPersonExternalID: entity.PrimaryPersonExternalID,
		InboundPayload:          entity.InboundPayload,
		InboundAfterUpdatedAt:   entity.InboundAfterUpdatedAt,
		OutboundPayload:         entity.OutboundPayload,
		ComparisonPayload:       entity.ComparisonPayload,
		LastTransactedAt:        entity.LastTransactedAt,
		CreateTime:              entity.CreateTime,
		LastUpdated:             entity.LastUpdated,
		Version:                 entity.Version,
	}
}

func fromDomainJob(j *model.Job) *JobEntity {
	if j == nil {
		return nil
	}
	// Status, Transmissions and Errors live in their own tables.
	return &JobEntity{
		ID:          j.ID,
		MessageID:   j.MessageID,
		Key:         j.Key,
		CreateTime:  j.CreateTime,
		LastUpdated: j.LastUpdated,
		Version:     j.Version,
	}
}

func toDomainJob(entity *JobEntity) *model.Job {
	if entity == nil {
		return nil
	}
	return &model.Job{
		ID:          entity.ID,
		MessageID:   entity.MessageID,
		Key:         entity.Key,
		CreateTime:  entity.CreateTime,
		LastUpdated: entity.LastUpdated,
		Version:     entity.Version,
	}
}

func fromDomainTransmission(t *model.Transmission) *TransmissionEntity {
	if t == nil {
		return nil
	}
	return &TransmissionEntity{
		ID:            t.ID,
		JobID:         t.JobID,
		CorrelationID: t.CorrelationID,
		Kind:          string(t.Kind),
		CreateTime:    t.CreateTime,
		LastUpdated:   t.LastUpdated,
		Version:       t.Version,
	}
}

func toDomainTransmission(entity *TransmissionEntity) *model.Transmission {
	if entity == nil {
		return nil
	}
	return &model.Transmission{
		ID:            entity.ID,
		JobID:         entity.JobID,
		CorrelationID: entity.CorrelationID,
		Kind:          model.TransmissionKind(entity.Kind),
		CreateTime:    entity.CreateTime,
		LastUpdated:   entity.LastUpdated,
		Version:       entity.Version,
	}
}

func fromDomainTransaction(tx *model.Transaction) *TransactionEntity {
	if tx == nil {
		return nil
	}
	return &TransactionEntity{
		ID:               tx.TransactionID,
		TransactableID:   tx.TransactableID,
		TransactableType: string(tx.TransactableType),
		Key:              tx.Key,
		JSONPayload:      tx.JSONPayload,
		XMLPayload:       tx.XMLPayload,
		CreateTime:       tx.CreateTime,
		LastUpdated:      tx.LastUpdated,
		Version:          tx.Version,
	}
}

func toDomainTransaction(entity *TransactionEntity) *model.Transaction {
	if entity == nil {
		return nil
	}
	return &model.Transaction{
		TransactionID:    entity.ID,
		TransactableID:   entity.TransactableID,
		TransactableType: model.TransactableType(entity.TransactableType),
		Key:              entity.Key,
		JSONPayload:      entity.JSONPayload,
		XMLPayload:       entity.XMLPayload,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
}

func fromDomainProcessStatus(ps *model.ProcessStatus) *ProcessStatusEntity {
	if ps == nil {
		return nil
	}
	return &ProcessStatusEntity{
		ID:              ps.ID,
		OwnerKind:       string(ps.OwnerKind),
		OwnerID:         ps.OwnerID,
		InitialStateKey: string(ps.InitialStateKey),
		LatestState:     string(ps.LatestState),
		ElapsedTime:     ps.ElapsedTime,
		States:          ps.States,
		CreateTime:      ps.CreateTime,
		LastUpdated:     ps.LastUpdated,
		Version:         ps.Version,
	}
}

func toDomainProcessStatus(entity *ProcessStatusEntity) *model.ProcessStatus {
	if entity == nil {
		return nil
	}
	return &model.ProcessStatus{
		ID:              entity.ID,
		OwnerKind:       model.OwnerKind(entity.OwnerKind),
		OwnerID:         entity.OwnerID,
		InitialStateKey: model.ProcessStateKey(entity.InitialStateKey),
		LatestState:     model.ProcessStateKey(entity.LatestState),
		ElapsedTime:     entity.ElapsedTime,
		States:          entity.States,
		CreateTime:      entity.CreateTime,
		LastUpdated:     entity.LastUpdated,
		Version:         entity.Version,
	}
}

func fromDomainError(e model.ErrorEntry) *ErrorEntity {
	return &ErrorEntity{
		ID:         e.ID,
		OwnerKind:  string(e.OwnerKind),
		OwnerID:    e.OwnerID,
		Key:        e.Key,
		Message:    e.Message,
		CreateTime: e.CreateTime,
	}
}

func toDomainError(entity *ErrorEntity) model.ErrorEntry {
	return model.ErrorEntry{
		ID:         entity.ID,
		OwnerKind:  model.OwnerKind(entity.OwnerKind),
		OwnerID:    entity.OwnerID,
		Key:        entity.Key,
		Message:    entity.Message,
		CreateTime: entity.CreateTime,
	}
}

func fromDomainTransmissionTransaction(tt model.TransmissionTransaction) *TransmissionTransactionEntity {
	return &TransmissionTransactionEntity{
		TransmissionID: tt.TransmissionID,
		TransactionID:  tt.TransactionID,
		CreateTime:     tt.CreateTime,
	}
}
