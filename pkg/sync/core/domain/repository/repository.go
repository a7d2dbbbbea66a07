// Package repository defines the persistence contracts for the famsync audit
// graph and Family subjects, plus the sentinel errors implementations return.
package repository

// SyncRepository is the interface for persisting and managing the audit graph
// and Family subjects. It embeds the per-entity repository interfaces to
// separate concerns.
type SyncRepository interface {
	FamilyRepository
	JobRepository
	TransmissionRepository
	TransactionRepository

	// Close releases resources (such as database connections) used by the
	// repository.
	Close() error
}
