package analyzer

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/rs/zerolog"
)

// binarySniffLen matches the window git uses to decide a file is binary.
const binarySniffLen = 8000

type ViolationScanner interface {
	Scan(submission models.ExtractedSubmission, keywords []string) []models.ViolationRecord
	IsRecognized(studentCode string) bool
	IsSourceFile(filePath string) bool
}

type ViolationScannerConfig struct {
	SourceExtensions   []string
	StudentCodePattern *regexp.Regexp
}

type violationScanner struct {
	extensions map[string]struct{}
	pattern    *regexp.Regexp
	anchored   *regexp.Regexp
	logger     zerolog.Logger
}

func NewViolationScanner(config ViolationScannerConfig, logger zerolog.Logger) ViolationScanner {
	extensions := make(map[string]struct{}, len(config.SourceExtensions))
	for _, ext := range config.SourceExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = struct{}{}
	}

	s := &violationScanner{
		extensions: extensions,
		pattern:    config.StudentCodePattern,
		logger:     logger,
	}
	if config.StudentCodePattern != nil {
		s.anchored = regexp.MustCompile(`^(?:` + config.StudentCodePattern.String() + `)$`)
	}
	return s
}

func (s *violationScanner) Scan(submission models.ExtractedSubmission, keywords []string) []models.ViolationRecord {
	var violations []models.ViolationRecord

	if s.pattern != nil && !s.pattern.MatchString(submission.FolderName) {
		violations = append(violations, models.ViolationRecord{
			StudentID:   submission.StudentCode,
			FilePath:    submission.FolderName,
			Type:        models.ViolationTypeNaming,
			Description: fmt.Sprintf("Folder %q does not contain a valid student code", submission.FolderName),
		})
	}

	needles := normalizeKeywords(keywords)
	if len(needles) == 0 {
		return violations
	}

	scanned := 0
	for _, file := range submission.Files {
		if !s.IsSourceFile(file.Path) || looksBinary(file.Content) {
			continue
		}
		scanned++

		haystack := strings.ToLower(string(file.Content))
		for _, kw := range needles {
			if strings.Contains(haystack, kw.lower) {
				violations = append(violations, models.ViolationRecord{
					StudentID:   submission.StudentCode,
					FilePath:    file.Path,
					Type:        models.ViolationTypeKeyword,
					Description: fmt.Sprintf("Forbidden keyword %q found", kw.original),
				})
			}
		}
	}

	s.logger.Debug().
		Str("student_code", submission.StudentCode).
		Int("files", len(submission.Files)).
		Int("scanned_files", scanned).
		Int("violations", len(violations)).
		Msg("Submission scanned")

	return violations
}

// IsRecognized reports whether the whole code matches the student-code pattern.
func (s *violationScanner) IsRecognized(studentCode string) bool {
	if s.anchored == nil {
		return studentCode != "" && studentCode != models.SystemStudentID
	}
	return s.anchored.MatchString(studentCode)
}

func (s *violationScanner) IsSourceFile(filePath string) bool {
	_, ok := s.extensions[strings.ToLower(path.Ext(filePath))]
	return ok
}

type keyword struct {
	original string
	lower    string
}

func normalizeKeywords(keywords []string) []keyword {
	out := make([]keyword, 0, len(keywords))
	for _, kw := range keywords {
		trimmed := strings.TrimSpace(kw)
		if trimmed == "" {
			continue
		}
		out = append(out, keyword{original: trimmed, lower: strings.ToLower(trimmed)})
	}
	return out
}

func looksBinary(content []byte) bool {
	if len(content) > binarySniffLen {
		content = content[:binarySniffLen]
	}
	return bytes.IndexByte(content, 0) >= 0
}
