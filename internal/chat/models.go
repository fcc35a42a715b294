package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type JobKind string

const (
	JobConverse JobKind = "converse"
	JobCaption  JobKind = "caption"
)

// Job is one ledger row per orchestrated call, synchronous or queued.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	Kind    JobKind `gorm:"type:varchar(16);index;not null" json:"kind"`
	Room    uint64  `gorm:"index;not null" json:"room"`
	Variant string  `gorm:"type:varchar(64)" json:"variant"`

	Prompt string `gorm:"type:text;not null" json:"prompt"`

	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex" json:"idempotency_key,omitempty"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	Reply  *string `gorm:"type:text" json:"reply,omitempty"`
	Rounds int     `gorm:"not null;default:0" json:"rounds"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "converse_jobs" }
