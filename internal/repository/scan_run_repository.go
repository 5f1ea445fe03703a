package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/rs/zerolog"
)

// uniqueViolation is the SQLSTATE postgres reports for a duplicate key.
const uniqueViolation = "23505"

type ScanRunRepository interface {
	Start(ctx context.Context, batchID, examID string) (*models.ScanRun, error)
	Complete(ctx context.Context, id string, studentCount, violationCount int) error
	Fail(ctx context.Context, id string, studentCount, violationCount int, errorMessage string) error
	GetByID(ctx context.Context, id string) (*models.ScanRun, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.ScanRun, error)
	Ping(ctx context.Context) error
}

type scanRunRepository struct {
	*PostgresRepository
}

func NewScanRunRepository(db *sql.DB, logger zerolog.Logger) ScanRunRepository {
	return &scanRunRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// Start records a new run. The attempt number counts the runs of the batch,
// so a value above one means the delivery was redelivered or rescanned.
func (r *scanRunRepository) Start(ctx context.Context, batchID, examID string) (*models.ScanRun, error) {
	query := `
		INSERT INTO scan_runs (id, batch_id, exam_id, attempt, status, started_at)
		SELECT $1, $2, $3, COALESCE(MAX(attempt), 0) + 1, $4, $5
		FROM scan_runs
		WHERE batch_id = $2
		RETURNING attempt
	`

	run := &models.ScanRun{
		BatchID: batchID,
		ExamID:  examID,
		Status:  models.ScanRunStatusProcessing.String(),
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		run.ID = uuid.New().String()
		run.StartedAt = time.Now().UTC()

		err = r.db.QueryRowContext(ctx, query,
			run.ID,
			run.BatchID,
			nullString(run.ExamID),
			run.Status,
			run.StartedAt,
		).Scan(&run.Attempt)
		if err == nil {
			return run, nil
		}
		// Two deliveries of one batch raced for the same attempt number.
		if !isUniqueViolation(err) {
			break
		}
	}

	return nil, fmt.Errorf("failed to create scan run: %w", err)
}

func (r *scanRunRepository) Complete(ctx context.Context, id string, studentCount, violationCount int) error {
	return r.finish(ctx, id, models.ScanRunStatusCompleted, studentCount, violationCount, nil)
}

func (r *scanRunRepository) Fail(ctx context.Context, id string, studentCount, violationCount int, errorMessage string) error {
	return r.finish(ctx, id, models.ScanRunStatusFailed, studentCount, violationCount, &errorMessage)
}

func (r *scanRunRepository) finish(ctx context.Context, id string, status models.ScanRunStatus, studentCount, violationCount int, errorMessage *string) error {
	query := `
		UPDATE scan_runs
		SET status = $2, student_count = $3, violation_count = $4,
			error_message = $5, completed_at = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		id,
		status.String(),
		studentCount,
		violationCount,
		errorMessage,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update scan run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScanRunNotFound
	}

	return nil
}

func (r *scanRunRepository) GetByID(ctx context.Context, id string) (*models.ScanRun, error) {
	query := `
		SELECT id, batch_id, exam_id, attempt, status, student_count,
			violation_count, error_message, started_at, completed_at
		FROM scan_runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan run: %w", err)
	}

	return run, nil
}

func (r *scanRunRepository) ListByBatch(ctx context.Context, batchID string) ([]models.ScanRun, error) {
	query := `
		SELECT id, batch_id, exam_id, attempt, status, student_count,
			violation_count, error_message, started_at, completed_at
		FROM scan_runs
		WHERE batch_id = $1
		ORDER BY attempt ASC
	`

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.ScanRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scan runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.ScanRun, error) {
	run := &models.ScanRun{}
	var examID, errorMessage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.BatchID,
		&examID,
		&run.Attempt,
		&run.Status,
		&run.StudentCount,
		&run.ViolationCount,
		&errorMessage,
		&run.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ExamID = examID.String
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
