// Package repository implements all database queries for the slot ledger and
// registration records. It uses pgx directly (no ORM) for transparency over
// the transactional boundaries the ledger depends on.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelechi-nwosu/exam-registration-core/internal/model"
)

// Ledger is the source of truth for purchase and usage facts. Implementations
// must guarantee that RegisterCandidate's admission decision and insert are a
// single atomic unit with respect to concurrent callers.
type Ledger interface {
	CreatePurchase(ctx context.Context, req model.PurchaseRequest) (*model.SlotPurchase, error)
	ConfirmPurchase(ctx context.Context, purchaseID string) (*model.SlotPurchase, error)
	ComputeBalance(ctx context.Context, coordinatorID string) (*model.SlotBalance, error)
	RegisterCandidate(ctx context.Context, req model.RegisterRequest) (*model.Registration, error)
	CancelRegistration(ctx context.Context, registrationID string) error
}

// PgLedger is the PostgreSQL-backed Ledger.
type PgLedger struct {
	db *pgxpool.Pool
}

// NewPgLedger constructs a PgLedger.
func NewPgLedger(db *pgxpool.Pool) *PgLedger {
	return &PgLedger{db: db}
}

// CreatePurchase inserts a new purchase with a pending payment status.
// Input validation happens in the service layer; the repository only persists.
func (r *PgLedger) CreatePurchase(ctx context.Context, req model.PurchaseRequest) (*model.SlotPurchase, error) {
	p := &model.SlotPurchase{
		ID:               uuid.New().String(),
		CoordinatorID:    req.CoordinatorID,
		ChapterID:        req.ChapterID,
		PackageID:        req.PackageID,
		SlotsPurchased:   req.SlotsPurchased,
		AmountPaid:       req.AmountPaid,
		PaymentStatus:    model.PaymentPending,
		PaymentReference: "SLT-" + uuid.New().String()[:8],
		PurchaseDate:     time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO slot_purchases
		   (id, coordinator_id, chapter_id, package_id, slots_purchased,
		    amount_paid, payment_status, payment_reference, purchase_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.CoordinatorID, p.ChapterID, p.PackageID, p.SlotsPurchased,
		p.AmountPaid, p.PaymentStatus, p.PaymentReference, p.PurchaseDate,
	)
	if err != nil {
		return nil, fmt.Errorf("insert slot purchase: %w", err)
	}
	return p, nil
}

// ConfirmPurchase transitions a purchase from pending to completed. The
// single UPDATE commits atomically with respect to concurrent balance reads:
// readers observe the purchase either fully pending or fully completed.
// Confirming an already-completed purchase is a no-op returning the record.
func (r *PgLedger) ConfirmPurchase(ctx context.Context, purchaseID string) (*model.SlotPurchase, error) {
	var p model.SlotPurchase
	err := r.db.QueryRow(ctx,
		`UPDATE slot_purchases
		 SET payment_status = 'completed'
		 WHERE id = $1
		 RETURNING id, coordinator_id, chapter_id, package_id, slots_purchased,
		           amount_paid, payment_status, payment_reference, purchase_date`,
		purchaseID,
	).Scan(
		&p.ID, &p.CoordinatorID, &p.ChapterID, &p.PackageID, &p.SlotsPurchased,
		&p.AmountPaid, &p.PaymentStatus, &p.PaymentReference, &p.PurchaseDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("confirm purchase: %w", err)
	}
	return &p, nil
}

// ComputeBalance derives the coordinator's balance from current purchase and
// registration facts. It deliberately performs a full aggregate read rather
// than maintaining an incremental counter, so every caller observes the
// latest committed state.
func (r *PgLedger) ComputeBalance(ctx context.Context, coordinatorID string) (*model.SlotBalance, error) {
	return computeBalance(ctx, r.db, coordinatorID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the balance
// aggregation can run standalone or inside the admission transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// computeBalance reads both aggregates in one statement so they share a
// single snapshot. Issued separately, a purchase confirmed and spent between
// the two reads would show up in the usage count but not the purchase total,
// and the observed balance could dip below zero.
func computeBalance(ctx context.Context, q querier, coordinatorID string) (*model.SlotBalance, error) {
	var total, used int
	var lastPurchase, lastUsage *time.Time
	err := q.QueryRow(ctx,
		`SELECT
		   COALESCE((SELECT SUM(slots_purchased) FROM slot_purchases
		             WHERE coordinator_id = $1 AND payment_status = 'completed'), 0),
		   (SELECT MAX(purchase_date) FROM slot_purchases
		    WHERE coordinator_id = $1 AND payment_status = 'completed'),
		   (SELECT COUNT(*) FROM registrations WHERE coordinator_id = $1),
		   (SELECT MAX(created_at) FROM registrations WHERE coordinator_id = $1)`,
		coordinatorID,
	).Scan(&total, &lastPurchase, &used, &lastUsage)
	if err != nil {
		return nil, fmt.Errorf("aggregate slot balance: %w", err)
	}

	return &model.SlotBalance{
		CoordinatorID:       coordinatorID,
		AvailableSlots:      total - used,
		UsedSlots:           used,
		TotalPurchasedSlots: total,
		LastPurchaseDate:    lastPurchase,
		LastUsageDate:       lastUsage,
	}, nil
}

// RegisterCandidate admits one registration against the coordinator's slot
// balance inside a single transaction.
//
// The check-then-act race: two concurrent attempts can both read
// availableSlots == 1 before either commits, and both insert. The transaction
// therefore takes a coordinator-scoped advisory lock before recomputing the
// balance; a competing attempt blocks on the lock, re-observes the updated
// balance after the first commit, and is rejected with ErrQuotaExceeded.
// Serialization failures from the storage layer surface as
// ErrConcurrencyConflict so the service layer can retry the commit once.
func (r *PgLedger) RegisterCandidate(ctx context.Context, req model.RegisterRequest) (*model.Registration, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serialize admissions per coordinator without coupling unrelated
	// coordinators. The lock is released automatically at commit/rollback.
	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, req.CoordinatorID)
	if err != nil {
		return nil, fmt.Errorf("acquire coordinator lock: %w", err)
	}

	balance, err := computeBalance(ctx, tx, req.CoordinatorID)
	if err != nil {
		return nil, err
	}
	if balance.AvailableSlots < 1 {
		err = ErrQuotaExceeded
		return nil, err
	}

	reg := &model.Registration{
		ID:            uuid.New().String(),
		CoordinatorID: req.CoordinatorID,
		ChapterID:     req.ChapterID,
		CenterID:      req.CenterID,
		SchoolName:    req.SchoolName,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		PaymentStatus: "completed",
		CreatedAt:     time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO registrations
		   (id, coordinator_id, chapter_id, center_id, school_name,
		    first_name, last_name, payment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reg.ID, reg.CoordinatorID, reg.ChapterID, reg.CenterID, reg.SchoolName,
		reg.FirstName, reg.LastName, reg.PaymentStatus, reg.CreatedAt,
	)
	if err != nil {
		return nil, classifyCommitErr(err, "insert registration")
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, classifyCommitErr(err, "commit registration")
	}
	return reg, nil
}

// CancelRegistration deletes a registration. The slot it consumed is released
// atomically with the delete becoming visible, because balances are derived
// from the live registration count rather than a stored counter.
func (r *PgLedger) CancelRegistration(ctx context.Context, registrationID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM registrations WHERE id = $1`, registrationID)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// classifyCommitErr maps storage-level serialization and deadlock failures to
// ErrConcurrencyConflict; everything else is wrapped as a persistence error.
func classifyCommitErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return ErrConcurrencyConflict
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
