package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/nwaples/rardecode/v2"
)

func extractRAR(ctx context.Context, r io.Reader, c *collector) error {
	rr, err := rardecode.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if c.entries == 0 {
				return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
			}
			// RAR is a stream: a broken header ends the walk but keeps what was read.
			c.violations = append(c.violations, models.NewScanErrorViolation(
				models.SystemStudentID, "", fmt.Sprintf("Archive truncated after %d entries: %v", c.entries, err)))
			return nil
		}

		if err := c.countEntry(); err != nil {
			return err
		}
		if hdr.IsDir {
			continue
		}

		size := hdr.UnPackedSize
		if hdr.UnKnownSize {
			size = -1
		}

		if err := c.add(ctx, entry{
			name: hdr.Name,
			size: size,
			open: func() (io.ReadCloser, error) { return io.NopCloser(rr), nil },
		}, false); err != nil {
			return err
		}
	}
}
