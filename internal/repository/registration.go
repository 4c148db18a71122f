package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// RegistrationSource streams registrations for the export pipeline.
type RegistrationSource interface {
	CountByFilter(ctx context.Context, f model.ExportFilter) (int, error)
	ListByFilter(ctx context.Context, f model.ExportFilter, limit, offset int) ([]model.Registration, error)
}

// BulkMutator applies set-based changes to many registrations at once.
// Bulk deletion releases the corresponding slots atomically with the delete
// becoming visible, since balances derive from the live registration count.
type BulkMutator interface {
	BulkDelete(ctx context.Context, ids []string) (int, error)
	BulkChangeCenter(ctx context.Context, ids []string, centerID string) (int, error)
	BulkChangeChapter(ctx context.Context, ids []string, chapterID string) (int, error)
	BulkChangePaymentStatus(ctx context.Context, ids []string, status string) (int, error)
}

// RegistrationRepository handles set-based reads and mutations over
// registrations outside the admission path.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// filterClause builds the WHERE clause for an export filter. Empty fields
// match everything.
func filterClause(f model.ExportFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, col+" = $"+strconv.Itoa(len(args)))
	}
	add("chapter_id", f.ChapterID)
	add("center_id", f.CenterID)
	add("school_name", f.SchoolName)
	add("payment_status", f.PaymentStatus)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountByFilter returns how many registrations match the filter.
func (r *RegistrationRepository) CountByFilter(ctx context.Context, f model.ExportFilter) (int, error) {
	where, args := filterClause(f)
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM registrations`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

// ListByFilter returns one page of matching registrations in a stable order.
func (r *RegistrationRepository) ListByFilter(ctx context.Context, f model.ExportFilter, limit, offset int) ([]model.Registration, error) {
	where, args := filterClause(f)
	args = append(args, limit, offset)
	q := fmt.Sprintf(
		`SELECT id, coordinator_id, chapter_id, center_id, school_name,
		        first_name, last_name, payment_status, created_at
		 FROM registrations%s
		 ORDER BY school_name, last_name, first_name
		 LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(
			&reg.ID, &reg.CoordinatorID, &reg.ChapterID, &reg.CenterID, &reg.SchoolName,
			&reg.FirstName, &reg.LastName, &reg.PaymentStatus, &reg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// BulkDelete removes the given registrations. Released slots become visible
// to ComputeBalance in the same committed state as the delete.
func (r *RegistrationRepository) BulkDelete(ctx context.Context, ids []string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM registrations WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk delete registrations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BulkChangeCenter reassigns the given registrations to a new exam center.
func (r *RegistrationRepository) BulkChangeCenter(ctx context.Context, ids []string, centerID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET center_id = $1 WHERE id = ANY($2)`, centerID, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk change center: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BulkChangeChapter reassigns the given registrations to a new chapter.
func (r *RegistrationRepository) BulkChangeChapter(ctx context.Context, ids []string, chapterID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET chapter_id = $1 WHERE id = ANY($2)`, chapterID, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk change chapter: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BulkChangePaymentStatus updates the payment status of the given registrations.
func (r *RegistrationRepository) BulkChangePaymentStatus(ctx context.Context, ids []string, status string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE registrations SET payment_status = $1 WHERE id = ANY($2)`, status, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk change payment status: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
