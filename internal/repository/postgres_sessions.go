package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// PostgresSessionsRepo 会话存储 PostgreSQL 实现
type PostgresSessionsRepo struct {
	db *sql.DB
}

func NewPostgresSessionsRepo(db *sql.DB) *PostgresSessionsRepo {
	return &PostgresSessionsRepo{db: db}
}

// 确保实现了接口
var _ SessionsRepo = (*PostgresSessionsRepo)(nil)

const sessionColumns = `
	session_id::text,
	kiosk_id,
	subject_id::text,
	reviewer_id,
	readings,
	predicted_label,
	approved_label,
	status,
	command,
	command_executed,
	created_at,
	updated_at`

// scanSession 扫描单行会话（readings 为 JSONB 数组）
func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var s domain.Session
	var readings []byte

	err := row.Scan(
		&s.SessionID,
		&s.KioskID,
		&s.SubjectID,
		&s.ReviewerID,
		&readings,
		&s.PredictedLabel,
		&s.ApprovedLabel,
		&s.Status,
		&s.Command,
		&s.CommandExecuted,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(readings) > 0 {
		if err := json.Unmarshal(readings, &s.Readings); err != nil {
			return nil, fmt.Errorf("failed to decode readings: %w", err)
		}
	}
	return &s, nil
}

// StartSession cleanup-on-start + 创建，单事务执行。
// 事务内顺序：下线旧 Subject -> 废弃旧 Session -> 插入新 Subject -> 插入新 Session。
// subjects 表上的部分唯一索引（kiosk_id WHERE is_active）兜底保证
// 并发 StartSession 也不会出现同一 kiosk 两个活跃 Subject。
func (r *PostgresSessionsRepo) StartSession(ctx context.Context, subject *domain.Subject, session *domain.Session) error {
	if subject == nil || session == nil {
		return fmt.Errorf("%w: subject and session are required", domain.ErrValidation)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE subjects
		 SET is_active = false, updated_at = CURRENT_TIMESTAMP
		 WHERE kiosk_id = $1 AND is_active`,
		subject.KioskID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate previous subject: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE kiosk_id = $2 AND status NOT IN ($3, $4)`,
		domain.StatusCompleted,
		session.KioskID,
		domain.StatusCompleted,
		domain.StatusDispensed,
	)
	if err != nil {
		return fmt.Errorf("failed to abandon previous sessions: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subjects (subject_id, kiosk_id, reviewer_id, subject_name, notes, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, true, $6, $6)`,
		subject.SubjectID,
		subject.KioskID,
		subject.ReviewerID,
		subject.Name,
		subject.Notes,
		subject.CreatedAt,
	)
	if err != nil {
		// 并发 StartSession：双方都通过了 deactivate，后到者撞上
		// uniq_subjects_active_kiosk。瞬态冲突，交给服务层重试。
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: concurrent session start for kiosk %s", domain.ErrConflict, subject.KioskID)
		}
		return fmt.Errorf("failed to create subject: %w", err)
	}

	readings, err := json.Marshal(session.Readings)
	if err != nil {
		return fmt.Errorf("failed to encode readings: %w", err)
	}
	if session.Readings == nil {
		readings = []byte("[]")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, kiosk_id, subject_id, reviewer_id, readings,
		                       predicted_label, approved_label, status, command, command_executed,
		                       created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $10)`,
		session.SessionID,
		session.KioskID,
		session.SubjectID,
		session.ReviewerID,
		readings,
		session.PredictedLabel,
		session.ApprovedLabel,
		session.Status,
		session.Command,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit start session: %w", err)
	}
	return nil
}

func (r *PostgresSessionsRepo) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *PostgresSessionsRepo) ListNonTerminalByKiosk(ctx context.Context, kioskID string) ([]*domain.Session, error) {
	if kioskID == "" {
		return nil, fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}

	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE kiosk_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, kioskID, domain.StatusCompleted, domain.StatusDispensed)
	if err != nil {
		return nil, fmt.Errorf("failed to query non-terminal sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

func (r *PostgresSessionsRepo) LatestDeliverable(ctx context.Context, kioskID string) (*domain.Session, error) {
	if kioskID == "" {
		return nil, fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}

	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE kiosk_id = $1
		  AND status = $2
		  AND command_executed = false
		  AND command != $3
		ORDER BY created_at DESC
		LIMIT 1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, kioskID, domain.StatusApproved, domain.CommandNone))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 没有待投递指令（不是错误）
		}
		return nil, fmt.Errorf("failed to query deliverable session: %w", err)
	}
	return s, nil
}

// AppendReading 追加读数 + CAS 状态迁移，单条 UPDATE 完成
func (r *PostgresSessionsRepo) AppendReading(ctx context.Context, sessionID string, reading domain.Reading, from, to domain.SessionStatus, predicted *domain.Label) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	var predictedArg any
	if predicted != nil {
		predictedArg = string(*predicted)
	}

	query := `
		UPDATE sessions
		SET readings = readings || jsonb_build_array($1::jsonb),
		    predicted_label = COALESCE($2, predicted_label),
		    status = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE session_id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, payload, predictedArg, to, sessionID, from)
	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return r.checkAffected(ctx, result, sessionID)
}

// UpdateSessionStatus 条件更新（WHERE status = from），支持部分字段
func (r *PostgresSessionsRepo) UpdateSessionStatus(ctx context.Context, sessionID string, from domain.SessionStatus, updates map[string]any) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if len(updates) == 0 {
		return fmt.Errorf("%w: updates cannot be empty", domain.ErrValidation)
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"status":           true,
		"predicted_label":  true,
		"approved_label":   true,
		"command":          true,
		"command_executed": true,
	}

	setParts := []string{}
	args := []any{}
	argN := 1
	for field, value := range updates {
		if !allowedFields[field] {
			return fmt.Errorf("%w: field '%s' is not allowed to update", domain.ErrValidation, field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}
	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, sessionID, from)
	query := fmt.Sprintf(`
		UPDATE sessions
		SET %s
		WHERE session_id = $%d AND status = $%d`,
		strings.Join(setParts, ", "), argN, argN+1)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return r.checkAffected(ctx, result, sessionID)
}

// isUniqueViolation 判定 Postgres 唯一约束冲突（SQLSTATE 23505）
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// checkAffected 区分 CAS 竞争失败与记录不存在
func (r *PostgresSessionsRepo) checkAffected(ctx context.Context, result sql.Result, sessionID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = $1`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	return domain.ErrConflict
}

func (r *PostgresSessionsRepo) ListHistory(ctx context.Context, reviewerID, filter string) ([]*domain.SessionSummary, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}

	query := `
		SELECT s.session_id::text,
		       s.kiosk_id,
		       COALESCE(sub.subject_name, ''),
		       s.predicted_label,
		       s.approved_label,
		       s.status,
		       s.command,
		       s.created_at
		FROM sessions s
		LEFT JOIN subjects sub ON s.subject_id = sub.subject_id
		WHERE s.reviewer_id = $1`
	args := []any{reviewerID}

	if strings.TrimSpace(filter) != "" {
		query += `
		  AND (sub.subject_name ILIKE $2
		       OR s.kiosk_id ILIKE $2
		       OR s.predicted_label ILIKE $2
		       OR s.approved_label ILIKE $2
		       OR s.status ILIKE $2)`
		args = append(args, "%"+strings.TrimSpace(filter)+"%")
	}
	query += `
		ORDER BY s.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := []*domain.SessionSummary{}
	for rows.Next() {
		var sum domain.SessionSummary
		err := rows.Scan(
			&sum.SessionID,
			&sum.KioskID,
			&sum.SubjectName,
			&sum.PredictedLabel,
			&sum.ApprovedLabel,
			&sum.Status,
			&sum.Command,
			&sum.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return out, nil
}

func (r *PostgresSessionsRepo) DeleteSession(ctx context.Context, sessionID, reviewerID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if reviewerID == "" {
		return fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = $1 AND reviewer_id = $2`,
		sessionID, reviewerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
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
