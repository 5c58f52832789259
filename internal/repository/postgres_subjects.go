package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// PostgresSubjectsRepo 患者分配存储 PostgreSQL 实现
type PostgresSubjectsRepo struct {
	db *sql.DB
}

func NewPostgresSubjectsRepo(db *sql.DB) *PostgresSubjectsRepo {
	return &PostgresSubjectsRepo{db: db}
}

var _ SubjectsRepo = (*PostgresSubjectsRepo)(nil)

const subjectColumns = `
	subject_id::text,
	kiosk_id,
	reviewer_id,
	subject_name,
	notes,
	is_active,
	created_at,
	updated_at`

func scanSubject(row interface{ Scan(...any) error }) (*domain.Subject, error) {
	var s domain.Subject
	err := row.Scan(
		&s.SubjectID,
		&s.KioskID,
		&s.ReviewerID,
		&s.Name,
		&s.Notes,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresSubjectsRepo) GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", domain.ErrValidation)
	}

	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE subject_id = $1`
	s, err := scanSubject(r.db.QueryRowContext(ctx, query, subjectID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return s, nil
}

func (r *PostgresSubjectsRepo) ActiveSubjectByKiosk(ctx context.Context, kioskID string) (*domain.Subject, error) {
	if kioskID == "" {
		return nil, fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}

	// 部分唯一索引保证最多一行
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE kiosk_id = $1 AND is_active`
	s, err := scanSubject(r.db.QueryRowContext(ctx, query, kioskID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 该 kiosk 当前没有开放的 Subject
		}
		return nil, fmt.Errorf("failed to query active subject: %w", err)
	}
	return s, nil
}

func (r *PostgresSubjectsRepo) DeactivateSubject(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return fmt.Errorf("%w: subject_id is required", domain.ErrValidation)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE subjects
		 SET is_active = false, updated_at = CURRENT_TIMESTAMP
		 WHERE subject_id = $1`,
		subjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate subject: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
