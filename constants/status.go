package constants

// BatchStatus is the canonical status of a persisted batch run.
type BatchStatus string

// Stable values (store these exact strings in DB).
const (
	BatchStatusQueued    BatchStatus = "QUEUED"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusSucceeded BatchStatus = "SUCCEEDED" // every document produced a record
	BatchStatusPartial   BatchStatus = "PARTIAL"   // some documents failed
	BatchStatusFailed    BatchStatus = "FAILED"    // no document produced a record
	BatchStatusCancelled BatchStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are expected.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusSucceeded, BatchStatusPartial, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}

// DocumentStatus is the outcome of one document within a batch.
type DocumentStatus string

const (
	DocumentStatusOK     DocumentStatus = "OK"
	DocumentStatusFailed DocumentStatus = "FAILED"
)
