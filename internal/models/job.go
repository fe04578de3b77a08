package models

import "time"

// JobState tracks a provisioning workflow through its steps
type JobState string

const (
	JobRequested      JobState = "requested"
	JobProjectCreated JobState = "project_created"
	JobReady          JobState = "ready"
	JobKeysRetrieved  JobState = "keys_retrieved"
	JobSchemaApplied  JobState = "schema_applied"
	JobPersisted      JobState = "persisted"
	JobComplete       JobState = "complete"
	JobFailed         JobState = "failed"
)

// ProvisionJob records one asynchronous backend-creation request. The
// dashboard polls it by ID after receiving the 202 response.
type ProvisionJob struct {
	ID         string   `gorm:"primaryKey;size:40" json:"id"`
	CustomerID string   `gorm:"size:100;not null;index" json:"customer_id"`
	State      JobState `gorm:"size:30;default:requested;index" json:"state"`

	// Set once the remote project exists; used by the orphan reconciler to
	// clean up projects whose job never reached persisted.
	ProjectRef string `gorm:"size:100;index" json:"project_ref"`

	// Set once the registry row exists
	BackendID *uint `json:"backend_id"`

	ErrorCode    string `gorm:"size:50" json:"error_code"`
	ErrorMessage string `gorm:"type:text" json:"-"`

	Reconciled bool `gorm:"default:false" json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Terminal reports whether the job has finished, successfully or not
func (j *ProvisionJob) Terminal() bool {
	return j.State == JobComplete || j.State == JobFailed
}
