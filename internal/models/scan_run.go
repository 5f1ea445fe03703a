package models

import "time"

type ScanRun struct {
	ID             string     `json:"id" db:"id"`
	BatchID        string     `json:"batch_id" db:"batch_id"`
	ExamID         string     `json:"exam_id,omitempty" db:"exam_id"`
	Attempt        int        `json:"attempt" db:"attempt"`
	Status         string     `json:"status" db:"status"`
	StudentCount   int        `json:"student_count" db:"student_count"`
	ViolationCount int        `json:"violation_count" db:"violation_count"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type ScanRunStatus string

const (
	ScanRunStatusProcessing ScanRunStatus = "processing"
	ScanRunStatusCompleted  ScanRunStatus = "completed"
	ScanRunStatusFailed     ScanRunStatus = "failed"
)

func (s ScanRunStatus) String() string {
	return string(s)
}
