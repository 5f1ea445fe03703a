package models

import (
	"fmt"
	"sort"
)

// SystemStudentID is the student id reserved for violations that are not
// attributable to a single submission (download or extraction failures).
const SystemStudentID = "SYSTEM"

type ViolationType string

const (
	ViolationTypeNaming     ViolationType = "Naming"
	ViolationTypeKeyword    ViolationType = "Keyword"
	ViolationTypePlagiarism ViolationType = "Plagiarism"
	ViolationTypeScanError  ViolationType = "ScanError"
)

func (vt ViolationType) String() string {
	return string(vt)
}

func (vt ViolationType) Valid() bool {
	switch vt {
	case ViolationTypeNaming, ViolationTypeKeyword, ViolationTypePlagiarism, ViolationTypeScanError:
		return true
	default:
		return false
	}
}

type ScanRequest struct {
	BatchID           string
	ExamID            string
	ArchivePath       string
	UploadedBy        string
	ForbiddenKeywords []string
}

type SubmissionFile struct {
	Path    string
	Content []byte
}

// ExtractedSubmission is one student's file set. Files are ordered by Path.
type ExtractedSubmission struct {
	StudentCode string
	FolderName  string
	Files       []SubmissionFile
}

func (s *ExtractedSubmission) TotalSize() int64 {
	var total int64
	for _, f := range s.Files {
		total += int64(len(f.Content))
	}
	return total
}

type ViolationRecord struct {
	StudentID        string
	FilePath         string
	Type             ViolationType
	Description      string
	SimilarityScore  *float64
	MatchedStudentID string
}

func NewScanErrorViolation(studentID, filePath, description string) ViolationRecord {
	return ViolationRecord{
		StudentID:   studentID,
		FilePath:    filePath,
		Type:        ViolationTypeScanError,
		Description: description,
	}
}

func NewPlagiarismViolation(studentID, matchedStudentID string, score float64, scope string) ViolationRecord {
	s := score
	description := fmt.Sprintf("Submission is %.2f%% similar to student %s", score*100, matchedStudentID)
	if scope != "" {
		description += " (" + scope + ")"
	}
	return ViolationRecord{
		StudentID:        studentID,
		Type:             ViolationTypePlagiarism,
		Description:      description,
		SimilarityScore:  &s,
		MatchedStudentID: matchedStudentID,
	}
}

type ScanResult struct {
	Violations     []ViolationRecord
	StudentCodes   []string
	StudentFolders map[string]string
}

// NewErrorResult builds the degraded result published when a run fails as a whole.
func NewErrorResult(err error) *ScanResult {
	return &ScanResult{
		Violations: []ViolationRecord{
			NewScanErrorViolation(SystemStudentID, "", fmt.Sprintf("Scan failed: %v", err)),
		},
		StudentCodes:   []string{},
		StudentFolders: map[string]string{},
	}
}

func (r *ScanResult) CountByType() map[ViolationType]int {
	counts := make(map[ViolationType]int)
	for _, v := range r.Violations {
		counts[v.Type]++
	}
	return counts
}

// HasScanError reports whether the result contains a system level failure.
func (r *ScanResult) HasScanError() bool {
	for _, v := range r.Violations {
		if v.Type == ViolationTypeScanError && v.StudentID == SystemStudentID {
			return true
		}
	}
	return false
}

// SortViolations orders violations by student, type, file and description so
// that results of repeated runs can be compared.
func SortViolations(violations []ViolationRecord) {
	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.MatchedStudentID != b.MatchedStudentID {
			return a.MatchedStudentID < b.MatchedStudentID
		}
		return a.Description < b.Description
	})
}
