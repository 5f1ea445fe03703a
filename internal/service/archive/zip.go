package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
)

// extractZIP spools the stream to a temporary file because the zip central
// directory sits at the end of the archive.
func extractZIP(ctx context.Context, r io.Reader, c *collector) error {
	tmp, err := os.CreateTemp("", "scan-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	limit := c.config.Limits.MaxExtractedBytes
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	size, err := io.Copy(tmp, src)
	if err != nil {
		return fmt.Errorf("failed to spool archive: %w", err)
	}
	if limit > 0 && size > limit {
		return fmt.Errorf("%w: compressed archive larger than %d bytes", ErrArchiveTooLarge, limit)
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	return walkZIP(ctx, zr, c, nil)
}

// walkZIP feeds every file of zr into the collector. rename maps inner names
// for nested archives; nil keeps them.
func walkZIP(ctx context.Context, zr *zip.Reader, c *collector, rename func(string) string) error {
	nested := rename != nil

	for _, f := range zr.File {
		if err := c.countEntry(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}

		name := f.Name
		if nested {
			name = rename(name)
		}

		if err := c.add(ctx, entry{
			name: name,
			size: int64(f.UncompressedSize64),
			open: f.Open,
		}, nested); err != nil {
			return err
		}
	}

	return nil
}

func (c *collector) expandNested(ctx context.Context, loc EntryLocation, content []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		c.violations = append(c.violations, models.NewScanErrorViolation(
			loc.StudentCode, loc.Path, fmt.Sprintf("Nested archive could not be opened: %v", err)))
		return nil
	}

	base := loc.FolderName
	if loc.RelativePath != loc.Path {
		base = path.Join(loc.FolderName, strings.TrimSuffix(loc.RelativePath, path.Ext(loc.RelativePath)))
	}

	return walkZIP(ctx, zr, c, func(name string) string {
		name = strings.ReplaceAll(name, "\\", "/")
		if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "../") || strings.Contains(name, "/../") {
			return name
		}
		return base + "/" + name
	})
}
