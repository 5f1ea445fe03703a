package archive

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyArchive       = errors.New("archive is empty")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrArchiveTooLarge    = errors.New("archive exceeds extraction limits")
	ErrCorruptArchive     = errors.New("archive is corrupt")
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatRAR     Format = "rar"
	FormatZIP     Format = "zip"
)

var (
	rarMagic      = []byte("Rar!\x1a\x07")
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
)

// DetectFormat identifies the archive format from its leading bytes.
func DetectFormat(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, rarMagic):
		return FormatRAR
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmptyMagic):
		return FormatZIP
	default:
		return FormatUnknown
	}
}

type Limits struct {
	MaxExtractedBytes int64
	MaxFileBytes      int64
	MaxEntries        int
}

type ExtractorConfig struct {
	Limits               Limits
	StudentCodePattern   *regexp.Regexp
	ExpandNestedArchives bool
}

// Result holds the submissions of one archive and the per-entry problems
// found while extracting it.
type Result struct {
	Format      Format
	Submissions []models.ExtractedSubmission
	Violations  []models.ViolationRecord
	Entries     int
	TotalBytes  int64
}

type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (*Result, error)
}

type extractor struct {
	config ExtractorConfig
	logger zerolog.Logger
}

func NewExtractor(config ExtractorConfig, logger zerolog.Logger) Extractor {
	return &extractor{
		config: config,
		logger: logger,
	}
}

// Extract reads the whole archive and returns one submission per student.
// Fatal errors (empty stream, unknown format, limits exceeded, unreadable
// archive) are returned; problems with single entries end up in
// Result.Violations.
func (e *extractor) Extract(ctx context.Context, r io.Reader) (*Result, error) {
	if r == nil {
		return nil, ErrEmptyArchive
	}

	br := bufio.NewReader(r)
	header, err := br.Peek(len(rarMagic))
	if len(header) == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read archive header: %w", err)
		}
		return nil, ErrEmptyArchive
	}

	c := newCollector(e.config)
	format := DetectFormat(header)

	switch format {
	case FormatRAR:
		err = extractRAR(ctx, br, c)
	case FormatZIP:
		err = extractZIP(ctx, br, c)
	default:
		return nil, fmt.Errorf("%w: leading bytes %q", ErrUnsupportedArchive, header)
	}
	if err != nil {
		return nil, err
	}

	result := c.result()
	result.Format = format

	e.logger.Info().
		Str("format", string(format)).
		Int("entries", result.Entries).
		Int64("total_bytes", result.TotalBytes).
		Int("submissions", len(result.Submissions)).
		Int("entry_violations", len(result.Violations)).
		Msg("Archive extracted")

	return result, nil
}

// entry is one file of an archive, independent of the container format.
type entry struct {
	name string
	// size is the declared uncompressed size, -1 when unknown.
	size int64
	open func() (io.ReadCloser, error)
}

// collector enforces the limits and groups entries into submissions.
type collector struct {
	config      ExtractorConfig
	submissions map[string]*models.ExtractedSubmission
	folders     map[string][]string
	violations  []models.ViolationRecord
	entries     int
	totalBytes  int64
}

func newCollector(config ExtractorConfig) *collector {
	return &collector{
		config:      config,
		submissions: make(map[string]*models.ExtractedSubmission),
		folders:     make(map[string][]string),
	}
}

func (c *collector) countEntry() error {
	c.entries++
	if c.config.Limits.MaxEntries > 0 && c.entries > c.config.Limits.MaxEntries {
		return fmt.Errorf("%w: more than %d entries", ErrArchiveTooLarge, c.config.Limits.MaxEntries)
	}
	return nil
}

func (c *collector) add(ctx context.Context, en entry, nested bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := en.name
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "_")
		if loc, err := DeriveStudentCode(name, c.config.StudentCodePattern); err == nil {
			c.violations = append(c.violations, models.ViolationRecord{
				StudentID:   loc.StudentCode,
				FilePath:    loc.Path,
				Type:        models.ViolationTypeNaming,
				Description: "File name is not valid UTF-8",
			})
		}
	}

	loc, err := DeriveStudentCode(name, c.config.StudentCodePattern)
	switch {
	case errors.Is(err, ErrIgnoredEntry):
		return nil
	case err != nil:
		c.violations = append(c.violations, models.NewScanErrorViolation(
			models.SystemStudentID, name, fmt.Sprintf("Entry skipped: %v", err)))
		return nil
	}

	limit := c.config.Limits.MaxFileBytes
	if limit > 0 && en.size > limit {
		return fmt.Errorf("%w: entry %s declares %d bytes (limit %d)", ErrArchiveTooLarge, loc.Path, en.size, limit)
	}

	content, err := c.read(en, limit)
	if err != nil {
		if errors.Is(err, ErrArchiveTooLarge) {
			return fmt.Errorf("entry %s: %w", loc.Path, err)
		}
		c.violations = append(c.violations, models.NewScanErrorViolation(
			loc.StudentCode, loc.Path, fmt.Sprintf("Entry could not be read: %v", err)))
		return nil
	}

	if len(content) == 0 {
		c.violations = append(c.violations, models.NewScanErrorViolation(
			loc.StudentCode, loc.Path, "Empty file skipped"))
		return nil
	}

	if !nested && c.config.ExpandNestedArchives && strings.EqualFold(path.Ext(loc.Path), ".zip") {
		return c.expandNested(ctx, loc, content)
	}

	c.store(loc, content)
	return nil
}

func (c *collector) read(en entry, limit int64) ([]byte, error) {
	rc, err := en.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var reader io.Reader = rc
	if limit > 0 {
		reader = io.LimitReader(rc, limit+1)
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: file larger than %d bytes", ErrArchiveTooLarge, limit)
	}

	c.totalBytes += int64(len(content))
	if maxBytes := c.config.Limits.MaxExtractedBytes; maxBytes > 0 && c.totalBytes > maxBytes {
		return nil, fmt.Errorf("%w: more than %d extracted bytes", ErrArchiveTooLarge, maxBytes)
	}

	return content, nil
}

func (c *collector) store(loc EntryLocation, content []byte) {
	sub, ok := c.submissions[loc.StudentCode]
	if !ok {
		sub = &models.ExtractedSubmission{
			StudentCode: loc.StudentCode,
			FolderName:  loc.FolderName,
		}
		c.submissions[loc.StudentCode] = sub
	}

	known := c.folders[loc.StudentCode]
	seen := false
	for _, f := range known {
		if f == loc.FolderName {
			seen = true
			break
		}
	}
	if !seen {
		c.folders[loc.StudentCode] = append(known, loc.FolderName)
	}

	sub.Files = append(sub.Files, models.SubmissionFile{
		Path:    loc.Path,
		Content: content,
	})
}

func (c *collector) result() *Result {
	codes := make([]string, 0, len(c.submissions))
	for code := range c.submissions {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	result := &Result{
		Submissions: make([]models.ExtractedSubmission, 0, len(codes)),
		Violations:  c.violations,
		Entries:     c.entries,
		TotalBytes:  c.totalBytes,
	}

	for _, code := range codes {
		sub := c.submissions[code]
		sort.SliceStable(sub.Files, func(i, j int) bool {
			return sub.Files[i].Path < sub.Files[j].Path
		})
		result.Submissions = append(result.Submissions, *sub)

		if folders := c.folders[code]; len(folders) > 1 {
			result.Violations = append(result.Violations, models.ViolationRecord{
				StudentID:   code,
				Type:        models.ViolationTypeNaming,
				Description: fmt.Sprintf("Submission split across folders: %s", strings.Join(folders, ", ")),
			})
		}
	}

	return result
}
