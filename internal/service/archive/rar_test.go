package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/stretchr/testify/require"
)

func openFixture(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExtractRARGroupsByStudent(t *testing.T) {
	result, err := newTestExtractor(defaultLimits()).Extract(context.Background(), openFixture(t, "two_students.rar"))
	require.NoError(t, err)
	require.Equal(t, FormatRAR, result.Format)
	require.Equal(t, 2, result.Entries)
	require.Empty(t, result.Violations)
	require.Len(t, result.Submissions, 2)

	first := result.Submissions[0]
	require.Equal(t, "SE123456", first.StudentCode)
	require.Equal(t, "SE123456", first.FolderName)
	require.Len(t, first.Files, 1)
	require.Equal(t, "SE123456/Program.cs", first.Files[0].Path)
	require.Equal(t, "// generated by ChatGPT\nclass A {}\n", string(first.Files[0].Content))

	second := result.Submissions[1]
	require.Equal(t, "SE654321", second.StudentCode)
	require.Equal(t, "class B {}\n", string(second.Files[0].Content))
}

func TestExtractRARLimits(t *testing.T) {
	t.Run("single file", func(t *testing.T) {
		_, err := newTestExtractor(Limits{MaxExtractedBytes: 1 << 20, MaxFileBytes: 16, MaxEntries: 10}).
			Extract(context.Background(), openFixture(t, "two_students.rar"))
		require.ErrorIs(t, err, ErrArchiveTooLarge)
	})

	t.Run("total bytes", func(t *testing.T) {
		_, err := newTestExtractor(Limits{MaxExtractedBytes: 40, MaxFileBytes: 1 << 10, MaxEntries: 10}).
			Extract(context.Background(), openFixture(t, "two_students.rar"))
		require.ErrorIs(t, err, ErrArchiveTooLarge)
	})

	t.Run("entry count", func(t *testing.T) {
		_, err := newTestExtractor(Limits{MaxExtractedBytes: 1 << 20, MaxFileBytes: 1 << 10, MaxEntries: 1}).
			Extract(context.Background(), openFixture(t, "two_students.rar"))
		require.ErrorIs(t, err, ErrArchiveTooLarge)
	})
}

func TestExtractRARTruncatedKeepsEarlierEntries(t *testing.T) {
	result, err := newTestExtractor(defaultLimits()).Extract(context.Background(), openFixture(t, "truncated.rar"))
	require.NoError(t, err)
	require.Len(t, result.Submissions, 1)
	require.Equal(t, "SE123456", result.Submissions[0].StudentCode)

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	require.Equal(t, models.SystemStudentID, v.StudentID)
	require.Equal(t, models.ViolationTypeScanError, v.Type)
	require.Contains(t, v.Description, "Archive truncated after 1 entries")
}

func TestExtractRARCorruptHeader(t *testing.T) {
	data := []byte("Rar!\x1a\x07\x00\x00\x00\x73\x00\x00\x0d\x00\x00\x00\x00\x00\x00\x00")

	_, err := newTestExtractor(defaultLimits()).Extract(context.Background(), bytes.NewReader(data))
	require.ErrorIs(t, err, ErrCorruptArchive)
}
