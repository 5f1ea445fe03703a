package models

import (
	"time"
)

// SubmissionBatchUploaded is published by the exam service once a manager
// uploads the archive of a batch.
type SubmissionBatchUploaded struct {
	BatchID             string   `json:"batchId"`
	ExamID              string   `json:"examId,omitempty"`
	RarFilePath         string   `json:"rarFilePath"`
	UploadedByManagerID string   `json:"uploadedByManagerId"`
	ForbiddenKeywords   []string `json:"forbiddenKeywords"`
}

func (e SubmissionBatchUploaded) ToScanRequest() ScanRequest {
	keywords := make([]string, len(e.ForbiddenKeywords))
	copy(keywords, e.ForbiddenKeywords)

	return ScanRequest{
		BatchID:           e.BatchID,
		ExamID:            e.ExamID,
		ArchivePath:       e.RarFilePath,
		UploadedBy:        e.UploadedByManagerID,
		ForbiddenKeywords: keywords,
	}
}

type ViolationEvent struct {
	StudentID        string   `json:"studentId"`
	FilePath         string   `json:"filePath"`
	ViolationType    string   `json:"violationType"`
	Description      string   `json:"description"`
	SimilarityScore  *float64 `json:"similarityScore,omitempty"`
	MatchedStudentID string   `json:"matchedStudentId,omitempty"`
}

// ScanCompleted is published exactly once per inbound SubmissionBatchUploaded.
type ScanCompleted struct {
	BatchID             string            `json:"batchId"`
	UploadedByManagerID string            `json:"uploadedByManagerId"`
	Violations          []ViolationEvent  `json:"violations"`
	StudentCodes        []string          `json:"studentCodes"`
	StudentFolders      map[string]string `json:"studentFolders"`
	ScannedAt           time.Time         `json:"scannedAt"`
}

func NewScanCompleted(req ScanRequest, result *ScanResult, scannedAt time.Time) ScanCompleted {
	if result == nil {
		result = &ScanResult{}
	}

	violations := make([]ViolationEvent, 0, len(result.Violations))
	for _, v := range result.Violations {
		violations = append(violations, ViolationEvent{
			StudentID:        v.StudentID,
			FilePath:         v.FilePath,
			ViolationType:    v.Type.String(),
			Description:      v.Description,
			SimilarityScore:  v.SimilarityScore,
			MatchedStudentID: v.MatchedStudentID,
		})
	}

	codes := result.StudentCodes
	if codes == nil {
		codes = []string{}
	}
	folders := result.StudentFolders
	if folders == nil {
		folders = map[string]string{}
	}

	return ScanCompleted{
		BatchID:             req.BatchID,
		UploadedByManagerID: req.UploadedBy,
		Violations:          violations,
		StudentCodes:        codes,
		StudentFolders:      folders,
		ScannedAt:           scannedAt.UTC(),
	}
}
